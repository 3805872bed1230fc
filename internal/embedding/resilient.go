package embedding

import (
	"context"

	"github.com/korrel8/semcode/internal/semerr"
)

// ResilientEmbedder wraps a remote-provider Embedder with retry-with-backoff
// and a circuit breaker, so a flaky or temporarily-down embedding service
// degrades to fast failures instead of hanging the indexing or optimizer
// pipeline. Grounded on the teacher's retry/circuit-breaker pair, reused here
// for the embedding RPC boundary specifically (spec section 5, Timeouts).
type ResilientEmbedder struct {
	inner   Embedder
	retry   semerr.RetryConfig
	breaker *semerr.CircuitBreaker
}

// NewResilientEmbedder wraps inner with the given retry config and circuit
// breaker. A nil breaker disables circuit breaking (retry only).
func NewResilientEmbedder(inner Embedder, retry semerr.RetryConfig, breaker *semerr.CircuitBreaker) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, retry: retry, breaker: breaker}
}

func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := func() ([][]float32, error) {
		return semerr.RetryWithResult(ctx, r.retry, func() ([][]float32, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
	}
	if r.breaker == nil {
		return call()
	}
	fallback := func() ([][]float32, error) {
		return nil, semerr.ErrCircuitOpen
	}
	return semerr.ExecuteWithResult(r.breaker, call, fallback)
}

func (r *ResilientEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *ResilientEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *ResilientEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *ResilientEmbedder) Close() error                       { return r.inner.Close() }
