package project

import (
	"strings"

	"github.com/bmatcuk/doublestar"
)

// Matcher decides which project-relative paths are ignored.
//
// A path is ignored when the whole slash-separated path, or any single
// component of it, matches one of the patterns.
type Matcher struct {
	patterns []string
}

// NewMatcher returns a Matcher for the given glob patterns.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{patterns: append([]string(nil), patterns...)}
}

// Ignored reports whether rel is ignored. rel uses forward slashes.
func (m *Matcher) Ignored(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	components := strings.Split(rel, "/")
	for _, pattern := range m.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		for _, c := range components {
			if ok, _ := doublestar.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}
