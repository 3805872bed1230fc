package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of unique text embeddings kept in
// memory, trading a small fixed memory cost (dimension * 4 bytes per entry)
// for avoiding repeated embedding calls on the same query or chunk text.
const DefaultCacheSize = 2000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text+model, so
// repeated queries and re-embedded unchanged chunks skip the underlying
// provider entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](capacity)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// EmbedBatch checks the cache for each text first, then embeds only the
// misses in a single call to the inner embedder, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := c.cacheKey(t)
		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = embedded[j]
		c.cache.Add(c.cacheKey(texts[idx]), embedded[j])
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error                       { return c.inner.Close() }

// Inner exposes the wrapped embedder for callers needing provider-specific
// behavior not on the Embedder interface.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
