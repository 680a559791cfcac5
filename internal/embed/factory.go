package embed

import (
	"context"
	"fmt"
	"os"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	Provider   string // "ollama" (default), "openai", or "static"
	Model      string
	Dimensions int
	Host       string // Ollama only
	APIKey     string // OpenAI only; falls back to OPENAI_API_KEY
	CacheSize  int    // LRU entries; <= 0 uses the default
}

// NewEmbedder builds the configured provider wrapped in the LRU cache.
// Network providers also get the retry wrapper.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Provider {
	case "", ProviderOllama:
		inner, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		inner = NewRetryEmbedder(inner, 0, 0)

	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     apiKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		inner = NewRetryEmbedder(inner, 0, 0)

	case ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want %q, %q or %q)",
			cfg.Provider, ProviderOllama, ProviderOpenAI, ProviderStatic)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
