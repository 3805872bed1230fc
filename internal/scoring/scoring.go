// Package scoring implements the multi-feature relevance scorer (C7): a
// pluggable set of named, weighted feature scorers combined into one total
// score per chunk, with parallel batch evaluation and an LRU+TTL result
// cache.
package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/korrel8/semcode/internal/chunkmodel"
	"github.com/korrel8/semcode/internal/semerr"
)

// Context carries the query-time inputs a FeatureScorer may need.
type Context struct {
	QueryVector     []float32
	SymbolsInQuery  []string
	CurrentFile     string
	Now             time.Time
	RecencyHalfLife time.Duration
	UsageEMA        map[string]float64   // chunk id -> smoothed usage count
	SemanticScores  map[string]float32   // chunk id -> cosine similarity from retrieval
	QueryHash       string
	ContextEpoch    string
}

// FeatureScorer computes one normalized feature in [0, 1] for a chunk.
type FeatureScorer interface {
	Name() string
	Score(chunk chunkmodel.Chunk, ctx Context) float32
}

// Weighted pairs a FeatureScorer with its configured weight.
type Weighted struct {
	Scorer FeatureScorer
	Weight float32
}

// ScoredChunk is one scored candidate, with its per-feature breakdown.
type ScoredChunk struct {
	Chunk            chunkmodel.Chunk
	TotalScore       float32
	FeatureBreakdown map[string]float32
}

// Scorer combines a set of weighted features with caching and parallel
// batch evaluation.
type Scorer struct {
	features    []Weighted
	parallelism int
	cache       *resultCache
}

// ValidateWeights enforces invariant I7: feature weights must sum to 1
// within a small epsilon.
func ValidateWeights(features []Weighted) error {
	var sum float32
	for _, f := range features {
		sum += f.Weight
	}
	if math.Abs(float64(sum)-1.0) > 1e-6 {
		return semerr.New(semerr.ErrCodeInvalidWeights, fmt.Sprintf("scoring weights sum to %f, must sum to 1", sum), nil)
	}
	return nil
}

// New builds a Scorer. parallelism bounds concurrent feature evaluation
// during ScoreBatch; cacheCapacity/cacheTTL configure the result cache (0
// disables caching).
func New(features []Weighted, parallelism int, cacheCapacity int, cacheTTL time.Duration) (*Scorer, error) {
	if err := ValidateWeights(features); err != nil {
		return nil, err
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Scorer{
		features:    features,
		parallelism: parallelism,
		cache:       newResultCache(cacheCapacity, cacheTTL),
	}, nil
}

// ScoreBatch scores every chunk against ctx, returning results sorted by
// total_score descending, tie-broken by semantic score then chunk id.
func (s *Scorer) ScoreBatch(ctx context.Context, chunks []chunkmodel.Chunk, sctx Context) ([]ScoredChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([]ScoredChunk, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[i] = s.scoreOne(chunk, sctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TotalScore != results[j].TotalScore {
			return results[i].TotalScore > results[j].TotalScore
		}
		si := results[i].FeatureBreakdown["semantic"]
		sj := results[j].FeatureBreakdown["semantic"]
		if si != sj {
			return si > sj
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results, nil
}

func (s *Scorer) scoreOne(chunk chunkmodel.Chunk, sctx Context) ScoredChunk {
	key := cacheKey(chunk.ID, sctx.QueryHash, sctx.ContextEpoch)
	if cached, ok := s.cache.get(key); ok {
		return cached
	}

	breakdown := make(map[string]float32, len(s.features))
	var total float32
	for _, wf := range s.features {
		f := clamp01(wf.Scorer.Score(chunk, sctx))
		breakdown[wf.Scorer.Name()] = f
		total += wf.Weight * f
	}

	result := ScoredChunk{Chunk: chunk, TotalScore: clamp01(total), FeatureBreakdown: breakdown}
	s.cache.put(key, result)
	return result
}

func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func cacheKey(chunkID, queryHash, contextEpoch string) string {
	sum := sha256.Sum256([]byte(chunkID + "\x00" + queryHash + "\x00" + contextEpoch))
	return hex.EncodeToString(sum[:])
}
