package scoring

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// resultCache is a bounded, TTL-expiring LRU cache of ScoredChunk results,
// keyed by a composite (chunk_id, query_hash, context_epoch) hash. A capacity
// of 0 disables caching entirely.
type resultCache struct {
	lru *expirable.LRU[string, ScoredChunk]
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	if capacity <= 0 {
		return &resultCache{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &resultCache{lru: expirable.NewLRU[string, ScoredChunk](capacity, nil, ttl)}
}

func (c *resultCache) get(key string) (ScoredChunk, bool) {
	if c.lru == nil {
		return ScoredChunk{}, false
	}
	return c.lru.Get(key)
}

func (c *resultCache) put(key string, value ScoredChunk) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, value)
}
