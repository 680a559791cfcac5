// Package embed provides query and passage embedding behind one interface,
// with Ollama, OpenAI and deterministic offline providers plus caching and
// retry wrappers.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedder turns text into fixed-dimension vectors. The retrieval pipeline
// treats it as a pure function supplied by a collaborator: one call per
// query, batch calls during corpus loading.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// Provider names accepted by NewEmbedder.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Defaults shared by the providers.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultDimensions  = 768

	DefaultBatchSize  = 32
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

// OllamaConfig configures the Ollama HTTP embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from a probe embedding
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// SkipHealthCheck skips the startup model probe (tests).
	SkipHealthCheck bool
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned
// unchanged so downstream cosine math stays finite.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}
