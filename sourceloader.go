package ruleimport

import (
	"context"
	"io"
)

// SourceLoader retrieves the raw content of a source.
type SourceLoader interface {
	// Load opens the content of src. If the content hasn't changed since the
	// revision in src.ETag, NotModified is set and Body is nil.
	Load(ctx context.Context, src Source) (*LoadResult, error)
}

// LoadResult is returned by a SourceLoader. The caller must close Body if it's
// not nil.
type LoadResult struct {
	Body        io.ReadCloser
	NotModified bool

	// New revision tag of the content, stored encoded. Empty if the origin
	// didn't provide one.
	ETag string
}

// MultiLoader dispatches to a file or HTTP loader depending on the location
// of the source.
type MultiLoader struct {
	File SourceLoader
	HTTP SourceLoader
}

var _ SourceLoader = MultiLoader{}

// NewMultiLoader returns a loader that reads local sources from disk and
// fetches remote ones with the given HTTP loader options.
func NewMultiLoader(opt HTTPLoaderOptions) MultiLoader {
	return MultiLoader{
		File: NewFileLoader(),
		HTTP: NewHTTPLoader(opt),
	}
}

func (l MultiLoader) Load(ctx context.Context, src Source) (*LoadResult, error) {
	if src.IsFileSource() {
		return l.File.Load(ctx, src)
	}
	return l.HTTP.Load(ctx, src)
}
