// Package store provides the persistence layer for the passage corpus:
// SQLite passage/metadata storage, the HNSW vector index, and the BM25
// lexical index (Bleve or SQLite FTS5).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State keys for the passage store's key-value table.
// The loader records the embedding dimension and model used to build the
// index so query-time mismatches can be detected before searching.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
	StateKeyIndexBuiltAt   = "index_built_at"
)

// Passage is an immutable unit of retrievable legal text.
// Created by the corpus loader, read-only during query serving.
type Passage struct {
	ID            string    // Globally unique, stable across rebuilds
	DocID         string    // Owning document identifier
	Text          string    // Non-empty UTF-8 content
	Title         string    // Optional document/passage title
	Section       string    // Optional section label (e.g. "§ 12.3")
	SourceURL     string    // Optional source URL for citation display
	Jurisdiction  []string  // Optional jurisdiction/domain tags
	EffectiveDate string    // Optional ISO-8601 effective date
	CreatedAt     time.Time // When the passage was loaded
}

// PassageStore persists passage text, metadata and embeddings in SQLite.
type PassageStore interface {
	// SavePassages inserts or replaces passages in one transaction.
	SavePassages(ctx context.Context, passages []*Passage) error

	// GetPassage returns a single passage, or nil if absent.
	GetPassage(ctx context.Context, id string) (*Passage, error)

	// GetPassages returns passages for the given IDs in one query.
	// Missing IDs are silently skipped.
	GetPassages(ctx context.Context, ids []string) ([]*Passage, error)

	// AllIDs returns all passage IDs, sorted ascending.
	AllIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)

	// DeletePassages removes passages by ID.
	DeletePassages(ctx context.Context, ids []string) error

	// SaveEmbeddings persists passage embeddings for index rebuilds.
	SaveEmbeddings(ctx context.Context, ids []string, vectors [][]float32, model string) error

	// GetAllEmbeddings returns every stored embedding keyed by passage ID.
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)

	// GetState / SetState access the key-value index-metadata table.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Close releases the database connection.
	Close() error
}

// LexicalResult is a single BM25 search result.
type LexicalResult struct {
	PassageID    string
	Score        float64
	MatchedTerms []string
}

// LexicalStats provides statistics about the lexical index.
type LexicalStats struct {
	PassageCount int
}

// LexicalIndex provides keyword search with BM25 scoring.
type LexicalIndex interface {
	// Index adds passages to the index. Existing IDs are replaced.
	Index(ctx context.Context, passages []*Passage) error

	// Search returns up to limit passages matching the query, scored by
	// BM25, descending. Equal scores are ordered by ascending passage ID.
	// A query that tokenizes to nothing returns an empty list, not an error.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes passages from the index.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all indexed passage IDs.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *LexicalStats

	Close() error
}

// VectorResult is a single nearest-neighbor search result.
type VectorResult struct {
	PassageID string
	Distance  float32 // Cosine distance, 0 (identical) to 2 (opposite)
	Score     float32 // Normalized similarity in [0,1]
}

// VectorIndexConfig configures the HNSW vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension (768 for nomic-embed-text).
	Dimensions int

	// Metric is the distance metric: "cos" (default) or "l2".
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// VectorIndex provides approximate nearest-neighbor search over passage
// embeddings.
type VectorIndex interface {
	// Add inserts vectors with their passage IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector, ordered by
	// similarity descending. An empty index returns an empty list.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by passage ID.
	Delete(ctx context.Context, ids []string) error

	// Contains reports whether a passage ID is indexed.
	Contains(id string) bool

	// Count returns the number of indexed vectors.
	Count() int

	// Dimensions returns the index's vector dimension.
	Dimensions() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// LexicalConfig configures the lexical index backends.
type LexicalConfig struct {
	// StopWords filtered during tokenization (query and index time).
	StopWords []string

	// MinTokenLength is the minimum token length to index (default 2).
	MinTokenLength int
}

// DefaultLexicalConfig returns the default lexical index configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords are high-frequency English function words plus boilerplate
// legalisms that carry no retrieval signal in statutory or contractual prose.
var DefaultStopWords = []string{
	"a", "an", "the", "and", "or", "but", "of", "to", "in", "on", "at",
	"by", "for", "with", "as", "is", "are", "was", "were", "be", "been",
	"that", "this", "these", "those", "it", "its", "not", "no", "such",
	"shall", "may", "any", "all", "other", "thereof", "herein", "hereby",
}

// ErrIndexUnavailable indicates a search path's backing index is missing or
// corrupt. The pipeline degrades that path to an empty candidate list rather
// than failing the query.
var ErrIndexUnavailable = errors.New("index unavailable")

// DimensionMismatchError indicates a query vector's dimension does not match
// the index dimension. Fatal per request, surfaced to the caller.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index has %d dimensions, query has %d (rebuild the index with the current embedder)", e.Expected, e.Got)
}

// IsDimensionMismatch reports whether err is a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var dm DimensionMismatchError
	return errors.As(err, &dm)
}
