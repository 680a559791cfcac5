package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// StaticEmbedder produces deterministic hash-derived embeddings with no
// external dependency. Offline fallback and test double: identical texts map
// to identical vectors, so retrieval behavior is reproducible, but vectors
// carry no semantic signal.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed derives a unit vector from repeated SHA-256 of the text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	// Expand the hash stream until the vector is full: each round hashes the
	// previous digest, yielding 8 float32 values per round.
	digest := sha256.Sum256([]byte(text))
	for i := 0; i < e.dims; {
		for j := 0; j+4 <= len(digest) && i < e.dims; j += 4 {
			bits := binary.LittleEndian.Uint32(digest[j : j+4])
			// Map to [-1, 1).
			vec[i] = float32(int32(bits)) / float32(1<<31)
			i++
		}
		digest = sha256.Sum256(digest[:])
	}

	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static-hash" }

// Available always reports true.
func (e *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }
