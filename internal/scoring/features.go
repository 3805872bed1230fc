package scoring

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/korrel8/semcode/internal/chunkmodel"
)

// DefaultWeights mirrors the five required features and their default
// weights (spec Section 4.7): semantic 0.40, symbol_match 0.25,
// file_proximity 0.20, recency 0.10, usage_frequency 0.05.
func DefaultWeights() map[string]float32 {
	return map[string]float32{
		"semantic":        0.40,
		"symbol_match":    0.25,
		"file_proximity":  0.20,
		"recency":         0.10,
		"usage_frequency": 0.05,
	}
}

// DefaultFeatures builds the five required FeatureScorers weighted per
// DefaultWeights, in a stable order suitable for passing to New.
func DefaultFeatures() []Weighted {
	w := DefaultWeights()
	return []Weighted{
		{Scorer: SemanticScorer{}, Weight: w["semantic"]},
		{Scorer: SymbolMatchScorer{}, Weight: w["symbol_match"]},
		{Scorer: FileProximityScorer{}, Weight: w["file_proximity"]},
		{Scorer: RecencyScorer{}, Weight: w["recency"]},
		{Scorer: UsageFrequencyScorer{}, Weight: w["usage_frequency"]},
	}
}

// SemanticScorer looks up the chunk's cosine similarity from the retrieval
// stage (ctx.SemanticScores), already computed against the query vector by
// the vector store's ANN search. It never recomputes the similarity itself.
type SemanticScorer struct{}

func (SemanticScorer) Name() string { return "semantic" }

func (SemanticScorer) Score(chunk chunkmodel.Chunk, ctx Context) float32 {
	if ctx.SemanticScores == nil {
		return 0
	}
	return ctx.SemanticScores[chunk.ID]
}

// SymbolMatchScorer rewards chunks whose declared symbols (or signature)
// mention a symbol named in the query.
type SymbolMatchScorer struct{}

func (SymbolMatchScorer) Name() string { return "symbol_match" }

func (SymbolMatchScorer) Score(chunk chunkmodel.Chunk, ctx Context) float32 {
	if len(ctx.SymbolsInQuery) == 0 {
		return 0
	}
	var hits int
	for _, want := range ctx.SymbolsInQuery {
		if symbolsContain(chunk.Symbols, want) || strings.Contains(chunk.Signature, want) {
			hits++
		}
	}
	return float32(hits) / float32(len(ctx.SymbolsInQuery))
}

func symbolsContain(symbols []string, want string) bool {
	for _, s := range symbols {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// FileProximityScorer rewards chunks in or near the current file's
// directory, measured by shared path-component prefix depth.
type FileProximityScorer struct{}

func (FileProximityScorer) Name() string { return "file_proximity" }

func (FileProximityScorer) Score(chunk chunkmodel.Chunk, ctx Context) float32 {
	if ctx.CurrentFile == "" {
		return 0
	}
	if chunk.FilePath == ctx.CurrentFile {
		return 1
	}

	curDir := filepath.Dir(ctx.CurrentFile)
	chunkDir := filepath.Dir(chunk.FilePath)
	if curDir == chunkDir {
		return 0.8
	}

	curParts := strings.Split(filepath.ToSlash(curDir), "/")
	chunkParts := strings.Split(filepath.ToSlash(chunkDir), "/")
	shared := 0
	for i := 0; i < len(curParts) && i < len(chunkParts); i++ {
		if curParts[i] != chunkParts[i] {
			break
		}
		shared++
	}
	maxDepth := len(curParts)
	if len(chunkParts) > maxDepth {
		maxDepth = len(chunkParts)
	}
	if maxDepth == 0 {
		return 0
	}
	return 0.6 * float32(shared) / float32(maxDepth)
}

// RecencyScorer applies exponential decay from the chunk's last-modified
// time, halving every ctx.RecencyHalfLife.
type RecencyScorer struct{}

func (RecencyScorer) Name() string { return "recency" }

func (RecencyScorer) Score(chunk chunkmodel.Chunk, ctx Context) float32 {
	if chunk.Metadata.LastModified.IsZero() || ctx.Now.IsZero() {
		return 0
	}
	halfLife := ctx.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 30 * 24 * time.Hour
	}
	age := ctx.Now.Sub(chunk.Metadata.LastModified)
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, float64(age)/float64(halfLife))
	return float32(decay)
}

// UsageFrequencyScorer rewards chunks retrieved often in past sessions,
// using a saturating curve so no single hot chunk dominates the score.
type UsageFrequencyScorer struct{}

func (UsageFrequencyScorer) Name() string { return "usage_frequency" }

func (UsageFrequencyScorer) Score(chunk chunkmodel.Chunk, ctx Context) float32 {
	if ctx.UsageEMA == nil {
		return 0
	}
	count := ctx.UsageEMA[chunk.ID]
	if count <= 0 {
		return 0
	}
	return float32(count / (count + 5))
}
