package store

import (
	"fmt"
)

// LexicalBackend selects the full-text index implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 (default).
	// WAL mode allows concurrent multi-process access.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2. Single process only due to the
	// exclusive BoltDB lock.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// NewLexicalIndex creates a LexicalIndex using the named backend.
// basePath is extended with a backend-specific suffix (.db or .bleve).
// An empty basePath creates an in-memory index for testing.
func NewLexicalIndex(basePath string, backend string) (LexicalIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendSQLite, "":
		path := basePath
		if path != "" {
			path += ".db"
		}
		return NewSQLiteLexicalIndex(path)

	case LexicalBackendBleve:
		path := basePath
		if path != "" {
			path += ".bleve"
		}
		return NewBleveLexicalIndex(path)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}
