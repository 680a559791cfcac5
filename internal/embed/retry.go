package embed

import (
	"context"
	"fmt"
	"time"
)

// RetryEmbedder wraps an Embedder with bounded retry and exponential
// backoff. Used around network providers during corpus loading, where a
// transient provider hiccup should not abort a long build.
type RetryEmbedder struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
}

var _ Embedder = (*RetryEmbedder)(nil)

// NewRetryEmbedder creates a retry wrapper. maxAttempts <= 0 defaults to 3,
// baseDelay <= 0 to 100ms.
func NewRetryEmbedder(inner Embedder, maxAttempts int, baseDelay time.Duration) *RetryEmbedder {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	return &RetryEmbedder{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

func (r *RetryEmbedder) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := op(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("embedding failed after %d attempts: %w", r.maxAttempts, lastErr)
}

// Embed retries the inner Embed on failure.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := r.retry(ctx, func() error {
		var opErr error
		result, opErr = r.inner.Embed(ctx, text)
		return opErr
	})
	return result, err
}

// EmbedBatch retries the inner EmbedBatch on failure.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := r.retry(ctx, func() error {
		var opErr error
		result, opErr = r.inner.EmbedBatch(ctx, texts)
		return opErr
	})
	return result, err
}

// Dimensions passes through to the inner embedder.
func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (r *RetryEmbedder) ModelName() string { return r.inner.ModelName() }

// Available passes through to the inner embedder.
func (r *RetryEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *RetryEmbedder) Close() error { return r.inner.Close() }
