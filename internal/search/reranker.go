package search

import (
	"context"
	"sort"
	"strings"
)

// RerankResult is a single reranker score. Index is the position in the
// input documents slice, so callers can map scores back to passage IDs
// regardless of how the reranker reorders or batches internally.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker scores documents against a query with a finer-grained relevance
// signal than either retrieval path. Batch-oriented: all candidates go in
// one call, bounded by the pipeline's rerank depth.
type Reranker interface {
	// Rerank scores documents by relevance to the query and returns
	// results sorted by score descending. topK <= 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoopReranker returns documents in their original order. Used when
// reranking is disabled; the pipeline falls back to it implicitly when the
// configured reranker is unavailable.
type NoopReranker struct{}

var _ Reranker = (*NoopReranker)(nil)

// Rerank assigns decreasing scores that preserve the input order.
func (n *NoopReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always reports true.
func (n *NoopReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (n *NoopReranker) Close() error { return nil }

// DefaultMaxRerankDocLength caps the passage text a rerank call reads.
// Truncation is a view over the candidate text; the store is untouched.
const DefaultMaxRerankDocLength = 2000

// OverlapReranker scores candidates by lexical overlap with the query:
//
//	overlap = |query_words ∩ passage_words| / |query_words|
//
// over lowercased whitespace tokens. Cheap enough to run on every query,
// and a useful precision signal on top of rank fusion because it rewards
// passages that echo the query's own vocabulary.
type OverlapReranker struct {
	// MaxDocLength truncates passage text before tokenizing. <= 0 uses
	// the default.
	MaxDocLength int
}

var _ Reranker = (*OverlapReranker)(nil)

// NewOverlapReranker creates an overlap reranker with the default document
// length cap.
func NewOverlapReranker() *OverlapReranker {
	return &OverlapReranker{MaxDocLength: DefaultMaxRerankDocLength}
}

// Rerank scores each document by query-word overlap, sorted descending.
// Ties keep input order (stable), so earlier fusion ranks win.
func (r *OverlapReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryWords := wordSet(query, 0)
	results := make([]RerankResult, len(documents))

	maxLen := r.MaxDocLength
	if maxLen <= 0 {
		maxLen = DefaultMaxRerankDocLength
	}

	for i, doc := range documents {
		if len(doc) > maxLen {
			doc = doc[:maxLen]
		}
		results[i] = RerankResult{Index: i, Score: overlapScore(queryWords, doc)}
	}

	sortRerankResults(results)

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always reports true; the scorer has no external dependency.
func (r *OverlapReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (r *OverlapReranker) Close() error { return nil }

// wordSet splits text on whitespace into a lowercased set. maxLen > 0
// truncates the text first.
func wordSet(text string, maxLen int) map[string]struct{} {
	if maxLen > 0 && len(text) > maxLen {
		text = text[:maxLen]
	}
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// overlapScore computes |query ∩ doc| / |query|. An empty query scores 0.
func overlapScore(queryWords map[string]struct{}, doc string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	docWords := wordSet(doc, 0)
	matched := 0
	for w := range queryWords {
		if _, ok := docWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}

// sortRerankResults sorts by score descending, stable on input order.
func sortRerankResults(results []RerankResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
