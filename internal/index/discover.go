package index

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// skippedDirs are never descended into during discovery.
var skippedDirs = map[string]bool{
	".git":         true,
	".scenedex":    true,
	"node_modules": true,
}

// Discover walks the project root and returns the slash-separated relative
// paths of documents matching any of the include patterns, sorted by walk
// order. Patterns use glob syntax; a leading "**/" matches any directory
// depth, including none.
func Discover(rootPath string, include []string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(rootPath, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		for _, pattern := range include {
			if matchPattern(pattern, rel) {
				docs = append(docs, rel)
				break
			}
		}
		return nil
	})
	return docs, err
}

// matchPattern matches a slash-relative path against one include pattern.
// Only the "**/" prefix form of recursive globbing is supported; it is what
// the default configuration uses.
func matchPattern(pattern, rel string) bool {
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if ok, _ := path.Match(rest, path.Base(rel)); ok {
			return true
		}
		return false
	}
	ok, _ := path.Match(pattern, rel)
	return ok
}
