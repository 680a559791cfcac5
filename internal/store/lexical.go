package store

import "fmt"

// Lexical backend names accepted by NewLexicalIndex.
const (
	LexicalBackendBleve  = "bleve"
	LexicalBackendSQLite = "sqlite"
)

// NewLexicalIndex creates a lexical index with the named backend.
// An empty backend selects Bleve. Path semantics differ per backend: Bleve
// uses a directory, SQLite a database file; an empty path is in-memory.
func NewLexicalIndex(backend, path string, config LexicalConfig) (LexicalIndex, error) {
	switch backend {
	case "", LexicalBackendBleve:
		return NewBleveIndex(path, config)
	case LexicalBackendSQLite:
		return NewFTS5Index(path, config)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (want %q or %q)",
			backend, LexicalBackendBleve, LexicalBackendSQLite)
	}
}
