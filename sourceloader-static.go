package ruleimport

import (
	"context"
	"io"
	"strings"
)

// StaticLoader serves fixed content from memory, keyed by source location.
// It's used for sources that are defined inline rather than fetched, and in
// tests.
type StaticLoader struct {
	content map[string]string
}

var _ SourceLoader = &StaticLoader{}

func NewStaticLoader(content map[string]string) *StaticLoader {
	return &StaticLoader{content}
}

func (l *StaticLoader) Load(ctx context.Context, src Source) (*LoadResult, error) {
	c, ok := l.content[src.Location]
	if !ok {
		return nil, &FetchError{Location: src.Location, Cause: errNotFound}
	}
	return &LoadResult{Body: io.NopCloser(strings.NewReader(c))}, nil
}
