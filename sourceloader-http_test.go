package ruleimport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPLoader(t *testing.T) {
	var (
		ifNoneMatch string
		userAgent   string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ifNoneMatch = r.Header.Get("If-None-Match")
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("ETag", `"v2"`)
		if ifNoneMatch == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("ads.example\n"))
	}))
	defer ts.Close()

	l := NewHTTPLoader(HTTPLoaderOptions{UserAgent: "ruleimport-test"})
	src := Source{ID: 1, Name: "remote", Location: ts.URL, Enabled: true}

	// Without a stored tag the content is returned
	res, err := l.Load(context.Background(), src)
	require.NoError(t, err)
	require.False(t, res.NotModified)
	require.Equal(t, "<qt>v2<qt>", res.ETag)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, "ads.example\n", string(b))
	require.Empty(t, ifNoneMatch)
	require.Equal(t, "ruleimport-test", userAgent)

	// The stored tag is sent decoded and the server answers with 304
	src.ETag = &res.ETag
	res, err = l.Load(context.Background(), src)
	require.NoError(t, err)
	require.True(t, res.NotModified)
	require.Nil(t, res.Body)
	require.Equal(t, `"v2"`, ifNoneMatch)
}

func TestHTTPLoaderIgnoredCondition(t *testing.T) {
	// Servers that don't support conditional requests return the full
	// content, the matching tag is enough to detect it's unchanged.
	tests := []struct {
		etag string
	}{
		{`"abc"`},
		{`W/"abc"`},
	}
	for _, test := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", test.etag)
			w.Write([]byte("ads.example\n"))
		}))

		stored := encodeETag(`"abc"`)
		src := Source{ID: 1, Name: "remote", Location: ts.URL, Enabled: true, ETag: &stored}
		res, err := NewHTTPLoader(HTTPLoaderOptions{}).Load(context.Background(), src)
		require.NoError(t, err)
		require.True(t, res.NotModified, "etag: %s", test.etag)
		ts.Close()
	}
}

func TestHTTPLoaderChanged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"new"`)
		w.Write([]byte("ads.example\n"))
	}))
	defer ts.Close()

	stored := encodeETag(`"old"`)
	src := Source{ID: 1, Name: "remote", Location: ts.URL, Enabled: true, ETag: &stored}
	res, err := NewHTTPLoader(HTTPLoaderOptions{}).Load(context.Background(), src)
	require.NoError(t, err)
	defer res.Body.Close()
	require.False(t, res.NotModified)
	require.Equal(t, "<qt>new<qt>", res.ETag)
}

func TestHTTPLoaderFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	src := Source{ID: 1, Name: "remote", Location: ts.URL, Enabled: true}
	_, err := NewHTTPLoader(HTTPLoaderOptions{}).Load(context.Background(), src)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.Status)

	// Connection failures
	ts.Close()
	_, err = NewHTTPLoader(HTTPLoaderOptions{}).Load(context.Background(), src)
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, fetchErr.Status)
	require.Error(t, fetchErr.Cause)
}
