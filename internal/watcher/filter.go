package watcher

import (
	"path/filepath"
	"strings"
)

// DefaultInclude matches the files that affect a Go build.
var DefaultInclude = []string{"*.go", "go.mod", "go.sum"}

// Filter decides which paths are reported. Patterns are matched against the
// base name with filepath.Match.
type Filter struct {
	Include     []string
	IgnoreTests bool
}

func (filter Filter) patterns() []string {
	if len(filter.Include) == 0 {
		return DefaultInclude
	}
	return filter.Include
}

// Match reports whether a change to path should be delivered.
func (filter Filter) Match(path string) bool {
	base := filepath.Base(path)
	if isScratchFile(base) {
		return false
	}
	if filter.IgnoreTests && strings.HasSuffix(base, "_test.go") {
		return false
	}
	for _, pattern := range filter.patterns() {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

// isScratchFile recognizes hidden files and editor temporaries.
func isScratchFile(base string) bool {
	switch {
	case base == "" || base == "." || base == "..":
		return true
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case strings.HasSuffix(base, "~"):
		return true
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"), strings.HasSuffix(base, ".tmp"):
		return true
	case base == "4913":
		return true
	}
	return false
}

// skipDir reports directories that never hold package sources.
func skipDir(base string) bool {
	if base == "testdata" || base == "vendor" || base == "node_modules" {
		return true
	}
	return strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_")
}
