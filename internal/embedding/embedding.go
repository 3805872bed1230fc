// Package embedding implements the embedding client (C6): the boundary
// between chunk/query text and the fixed-dimension float32 vectors the
// vector store indexes and searches.
package embedding

import (
	"context"
	"crypto/sha256"
	"math"
	"strconv"

	"github.com/korrel8/semcode/internal/semerr"
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// StaticEmbedder is a deterministic, dependency-free fallback embedder: it
// hashes text into a fixed-dimension unit vector. It produces no semantic
// relationships between texts, but it lets the rest of the pipeline (vector
// store, scorer, compressor, optimizer) run and be tested without a real
// model provider available, matching spec section 4.6's "must degrade
// gracefully when no embedding provider is reachable."
type StaticEmbedder struct {
	dimension int
	modelID   string
}

// NewStaticEmbedder returns a StaticEmbedder of the given dimension.
func NewStaticEmbedder(dimension int, modelID string) *StaticEmbedder {
	if modelID == "" {
		modelID = "static-hash-v1"
	}
	return &StaticEmbedder{dimension: dimension, modelID: modelID}
}

// EmbedBatch hashes each text independently; order of the returned slice
// matches the order of texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, s.dimension)
	}
	return out, nil
}

func (s *StaticEmbedder) Dimensions() int                    { return s.dimension }
func (s *StaticEmbedder) ModelName() string                  { return s.modelID }
func (s *StaticEmbedder) Available(ctx context.Context) bool { return true }
func (s *StaticEmbedder) Close() error                       { return nil }

// hashVector derives a deterministic unit vector from text using repeated
// SHA-256 expansion, seeding each dimension from successive hash rounds.
func hashVector(text string, dimension int) []float32 {
	v := make([]float32, dimension)
	block := sha256.Sum256([]byte(text))
	cur := block[:]
	for i := 0; i < dimension; i++ {
		if i > 0 && i%32 == 0 {
			next := sha256.Sum256(cur)
			cur = next[:]
		}
		b := cur[i%32]
		v[i] = float32(b)/127.5 - 1.0
	}
	normalize(v)
	return v
}

func normalize(v []float32) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// ValidateDimension returns a semerr if vector does not have the expected
// dimension; shared by real provider wrappers that must enforce invariant I4
// before a vector ever reaches the store.
func ValidateDimension(vector []float32, expected int) error {
	if len(vector) != expected {
		return semerr.New(semerr.ErrCodeDimensionMismatch, "embedding dimension mismatch", nil).
			WithDetail("expected", strconv.Itoa(expected)).
			WithDetail("actual", strconv.Itoa(len(vector)))
	}
	return nil
}
