package ruleimport

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPLoader fetches the content of remote sources via HTTP(S). Requests are
// made conditional on the revision tag stored with the source.
type HTTPLoader struct {
	client *http.Client
	opt    HTTPLoaderOptions
}

// HTTPLoaderOptions holds options for the HTTP loader.
type HTTPLoaderOptions struct {
	// Client used for requests, defaults to a client with Timeout.
	Client *http.Client

	// Request timeout, defaults to 30 minutes. Not used if Client is given.
	Timeout time.Duration

	// Optional User-Agent header.
	UserAgent string
}

var _ SourceLoader = &HTTPLoader{}

const defaultHTTPTimeout = 30 * time.Minute

func NewHTTPLoader(opt HTTPLoaderOptions) *HTTPLoader {
	client := opt.Client
	if client == nil {
		timeout := opt.Timeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPLoader{client: client, opt: opt}
}

func (l *HTTPLoader) Load(ctx context.Context, src Source) (*LoadResult, error) {
	log := sourceLogger(src).WithField("url", src.Location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return nil, &FetchError{Location: src.Location, Cause: err}
	}
	var stored string
	if src.ETag != nil {
		stored = decodeETag(*src.ETag)
		req.Header.Set("If-None-Match", stored)
	}
	if l.opt.UserAgent != "" {
		req.Header.Set("User-Agent", l.opt.UserAgent)
	}

	log.Debug("fetching source")
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{Location: src.Location, Cause: err}
	}

	received := resp.Header.Get("ETag")
	if resp.StatusCode == http.StatusNotModified || unchanged(stored, received) {
		resp.Body.Close()
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "etag": received}).Debug("source not modified")
		return &LoadResult{NotModified: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{Location: src.Location, Status: resp.StatusCode}
	}
	return &LoadResult{Body: resp.Body, ETag: encodeETag(received)}, nil
}

// unchanged returns true if the tag returned by the server matches the stored
// one. Caching proxies may have turned it into a weak tag.
func unchanged(stored, received string) bool {
	if stored == "" || received == "" {
		return false
	}
	return received == stored || received == "W/"+stored
}
