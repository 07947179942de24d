package ruleimport

import (
	"fmt"
	"strings"
)

// Source is a configured origin of block or allow rules. Sources are owned
// and edited elsewhere, the importer only updates ETag and RuleCount after a
// successful run.
type Source struct {
	ID       int64
	Name     string
	Location string // Local path, file:// URI or http(s) URL
	Enabled  bool

	// Rules of whitelist sources let queries pass instead of blocking them.
	Whitelist bool

	// Revision tag of the last imported remote content, stored encoded.
	// nil if unknown.
	ETag *string

	// Number of rules imported from this source in the last successful run.
	RuleCount *int
}

// IsFileSource returns true if the source is read from the local filesystem
// rather than fetched via HTTP(S).
func (s Source) IsFileSource() bool {
	l := strings.ToLower(s.Location)
	return !strings.HasPrefix(l, "http://") && !strings.HasPrefix(l, "https://")
}

// DefaultTargets returns the IPv4 and IPv6 targets used by grammars that don't
// carry an address of their own.
func (s Source) DefaultTargets() (string, string) {
	if s.Whitelist {
		return AllowTarget, AllowTarget
	}
	return BlockTarget, BlockTarget
}

func (s Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.Location)
}

const quoteEscape = "<qt>"

// Quotes in revision tags are stored escaped.
func encodeETag(tag string) string {
	return strings.ReplaceAll(tag, `"`, quoteEscape)
}

func decodeETag(tag string) string {
	return strings.ReplaceAll(tag, quoteEscape, `"`)
}

func sourceIDs(sources []Source) []int64 {
	ids := make([]int64, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	return ids
}
