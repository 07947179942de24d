package ruleimport

import (
	"context"
	"net/url"
	"os"
	"strings"
)

// FileLoader reads the content of sources stored on the local machine.
type FileLoader struct{}

var _ SourceLoader = FileLoader{}

func NewFileLoader() FileLoader {
	return FileLoader{}
}

func (l FileLoader) Load(ctx context.Context, src Source) (*LoadResult, error) {
	name := filePath(src.Location)
	sourceLogger(src).WithField("file", name).Debug("opening source file")
	f, err := os.Open(name)
	if err != nil {
		return nil, &FetchError{Location: src.Location, Cause: err}
	}
	return &LoadResult{Body: f}, nil
}

// filePath returns the filesystem path for a location, which may be a plain
// path or a file:// URI.
func filePath(location string) string {
	if !strings.HasPrefix(strings.ToLower(location), "file:") {
		return location
	}
	u, err := url.Parse(location)
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(location, "file://")
	}
	return u.Path
}
