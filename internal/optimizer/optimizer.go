// Package optimizer implements the token optimizer pipeline (C9): turning a
// user prompt and the project's indexed chunks into a budget-constrained,
// compressed context assembled for a routed target model.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/korrel8/semcode/internal/chunkmodel"
	"github.com/korrel8/semcode/internal/compress"
	"github.com/korrel8/semcode/internal/embedding"
	"github.com/korrel8/semcode/internal/router"
	"github.com/korrel8/semcode/internal/scoring"
	"github.com/korrel8/semcode/internal/semerr"
	"github.com/korrel8/semcode/internal/vectorstore"
)

// State names a pipeline phase in the per-query state machine.
type State string

const (
	StateIdle        State = "idle"
	StateIntentReady State = "intent_ready"
	StateRetrieved   State = "retrieved"
	StateScored      State = "scored"
	StateSelected    State = "selected"
	StateCompressed  State = "compressed"
	StateAssembled   State = "assembled"
	StateRouted      State = "routed"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// BudgetFractions splits the total token budget across prompt regions. The
// four fractions must not exceed 1.
type BudgetFractions struct {
	System         float64
	UserQuery      float64
	Context        float64
	ResponseReserve float64
}

// DefaultBudgetFractions matches the teacher-style conservative default: most
// of the budget goes to context, with headroom reserved for the response.
func DefaultBudgetFractions() BudgetFractions {
	return BudgetFractions{System: 0.05, UserQuery: 0.10, Context: 0.55, ResponseReserve: 0.30}
}

// Validate enforces that the fractions don't exceed 1 in total.
func (b BudgetFractions) Validate() error {
	sum := b.System + b.UserQuery + b.Context + b.ResponseReserve
	if sum > 1.0+1e-9 {
		return semerr.New(semerr.ErrCodeBudgetTooSmall, fmt.Sprintf("budget fractions sum to %f, must not exceed 1", sum), nil)
	}
	return nil
}

// Request is one optimize call's input.
type Request struct {
	Prompt        string
	CurrentFile   string
	RecentFiles   []string
	TotalBudget   int
	KInitialMultiplier int // defaults to 10
	MaxChunks     int
	MinRelevance  float64
}

// Selection is one chunk admitted into the context budget, annotated with
// its reserved per-chunk slice and eventual compression outcome.
type Selection struct {
	Chunk          chunkmodel.Chunk
	ScoreDensity   float32
	TotalScore     float32
	ReservedTokens int
	Compressed     compress.Result
}

// PromptRegion is one stamped section of the assembled prompt.
type PromptRegion struct {
	Name   string
	Text   string
	Tokens int
}

// Result is the terminal output of a successful optimize run.
type Result struct {
	SessionID  string
	State      State
	Intent     QueryIntent
	Selections []Selection
	Regions    []PromptRegion
	ModelID    string
	TotalTokens int
	Savings    int
}

// Pipeline wires the scorer, compressor, router, vector store and embedder
// collaborators together to run the six-phase optimization.
type Pipeline struct {
	store      *vectorstore.Store
	embedder   embedding.Embedder
	scorer     *scoring.Scorer
	compressor *compress.Compressor
	router     *router.Router
	fractions  BudgetFractions
	usageEMA   map[string]float64
}

// New constructs a Pipeline from its collaborators.
func New(store *vectorstore.Store, embedder embedding.Embedder, scorer *scoring.Scorer, compressor *compress.Compressor, rt *router.Router, fractions BudgetFractions) (*Pipeline, error) {
	if err := fractions.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		store: store, embedder: embedder, scorer: scorer,
		compressor: compressor, router: rt, fractions: fractions,
		usageEMA: make(map[string]float64),
	}, nil
}

// Optimize runs the full six-phase pipeline for req. Any phase failure
// returns a typed error and emits no partial prompt.
func (p *Pipeline) Optimize(ctx context.Context, req Request) (Result, error) {
	sessionID := uuid.NewString()
	fail := func(code string, err error) (Result, error) {
		return Result{SessionID: sessionID, State: StateFailed}, semerr.Wrap(code, err)
	}

	if req.TotalBudget <= 0 {
		return fail(semerr.ErrCodeBudgetTooSmall, fmt.Errorf("total_budget must be positive"))
	}
	kMult := req.KInitialMultiplier
	if kMult <= 0 {
		kMult = 10
	}
	maxChunks := req.MaxChunks
	if maxChunks <= 0 {
		maxChunks = 40
	}

	// Phase 1: intent detection.
	intent := DetectIntent(req.Prompt)

	// Phase 2: retrieval.
	contextBudget := int(float64(req.TotalBudget) * p.fractions.Context)
	kInitial := maxChunks * kMult
	vectors, err := p.embedder.EmbedBatch(ctx, []string{req.Prompt})
	if err == nil && len(vectors) == 0 {
		err = fmt.Errorf("embedder returned no vectors for the prompt")
	}
	if err != nil {
		return fail(semerr.ErrCodeEmbeddingFailed, err)
	}
	hits, err := p.store.Search(vectors[0], kInitial, 0)
	if err != nil {
		return fail(semerr.ErrCodeScoringFailed, err)
	}
	if len(hits) == 0 {
		return Result{SessionID: sessionID, State: StateDone, Intent: intent, Regions: p.emptyRegions(req)}, nil
	}

	// Phase 3: relevance scoring.
	candidates := make([]chunkmodel.Chunk, len(hits))
	semanticScores := make(map[string]float32, len(hits))
	for i, h := range hits {
		candidates[i] = h.Chunk
		semanticScores[h.Chunk.ID] = h.Score
	}
	sctx := scoring.Context{
		SymbolsInQuery: intent.ReferencedSymbols,
		CurrentFile:    req.CurrentFile,
		Now:            time.Now(),
		UsageEMA:       p.usageEMA,
		SemanticScores: semanticScores,
		QueryHash:      queryHash(req.Prompt),
		ContextEpoch:   contextEpoch(req.CurrentFile, req.RecentFiles),
	}
	scored, err := p.scorer.ScoreBatch(ctx, candidates, sctx)
	if err != nil {
		return fail(semerr.ErrCodeScoringFailed, err)
	}

	// Phase 4: budget-constrained selection via score-density greedy
	// admission.
	selections := selectByDensity(scored, contextBudget, maxChunks, float32(req.MinRelevance))

	// Phase 5: adaptive compression, re-dividing the budget across
	// admitted chunks weighted by density.
	selections = p.compressSelections(selections, contextBudget)

	// Phase 6: prompt assembly + model routing.
	result := p.assemble(req, intent, selections)
	result.ModelID = p.router.Select(result.TotalTokens, intent.Complexity)

	for _, sel := range selections {
		p.usageEMA[sel.Chunk.ID] = p.usageEMA[sel.Chunk.ID]*0.9 + 0.1
	}

	result.SessionID = sessionID
	result.State = StateDone
	return result, nil
}

func (p *Pipeline) emptyRegions(req Request) []PromptRegion {
	return []PromptRegion{
		{Name: "system", Text: "", Tokens: 0},
		{Name: "user_query", Text: req.Prompt, Tokens: chunkmodel.EstimateTokens(req.Prompt)},
		{Name: "context", Text: "", Tokens: 0},
	}
}

// selectByDensity computes score_density = total_score / estimated_tokens
// per candidate, sorts descending, and greedily admits chunks within
// contextBudget, capped by maxChunks and minRelevance.
func selectByDensity(scored []scoring.ScoredChunk, contextBudget, maxChunks int, minRelevance float32) []Selection {
	type densityCandidate struct {
		scored  scoring.ScoredChunk
		density float32
		tokens  int
	}
	candidates := make([]densityCandidate, 0, len(scored))
	for _, sc := range scored {
		if sc.TotalScore < minRelevance {
			continue
		}
		tokens := chunkmodel.EstimateTokens(sc.Chunk.Content)
		if tokens == 0 {
			tokens = 1
		}
		candidates = append(candidates, densityCandidate{scored: sc, density: sc.TotalScore / float32(tokens), tokens: tokens})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].density != candidates[j].density {
			return candidates[i].density > candidates[j].density
		}
		if candidates[i].scored.TotalScore != candidates[j].scored.TotalScore {
			return candidates[i].scored.TotalScore > candidates[j].scored.TotalScore
		}
		return candidates[i].scored.Chunk.ID < candidates[j].scored.Chunk.ID
	})

	var selections []Selection
	used := 0
	var totalDensity float32
	for _, c := range candidates {
		if len(selections) >= maxChunks {
			break
		}
		if used+c.tokens > contextBudget {
			continue
		}
		used += c.tokens
		totalDensity += c.density
		selections = append(selections, Selection{
			Chunk: c.scored.Chunk, ScoreDensity: c.density, TotalScore: c.scored.TotalScore,
		})
	}

	// Re-divide the budget across admitted chunks weighted by density.
	if totalDensity > 0 {
		for i := range selections {
			share := selections[i].ScoreDensity / totalDensity
			selections[i].ReservedTokens = int(float64(contextBudget) * float64(share))
			if selections[i].ReservedTokens < 1 {
				selections[i].ReservedTokens = 1
			}
		}
	}
	return selections
}

func (p *Pipeline) compressSelections(selections []Selection, contextBudget int) []Selection {
	kept := selections[:0]
	for _, sel := range selections {
		result := p.compressor.Compress(sel.Chunk, sel.ReservedTokens)
		if !result.Success {
			continue
		}
		sel.Compressed = result
		kept = append(kept, sel)
	}
	return kept
}

func (p *Pipeline) assemble(req Request, intent QueryIntent, selections []Selection) Result {
	var contextText string
	var originalTokens, finalTokens int
	for i, sel := range selections {
		if i > 0 {
			contextText += "\n\n"
		}
		contextText += sel.Compressed.Content
		originalTokens += sel.Compressed.OriginalTokens
		finalTokens += sel.Compressed.CompressedTokens
	}

	systemText := "You are assisting with a codebase."
	regions := []PromptRegion{
		{Name: "system", Text: systemText, Tokens: chunkmodel.EstimateTokens(systemText)},
		{Name: "user_query", Text: req.Prompt, Tokens: chunkmodel.EstimateTokens(req.Prompt)},
		{Name: "context", Text: contextText, Tokens: chunkmodel.EstimateTokens(contextText)},
	}

	total := 0
	for _, r := range regions {
		total += r.Tokens
	}

	return Result{
		Intent:      intent,
		Selections:  selections,
		Regions:     regions,
		TotalTokens: total,
		Savings:     originalTokens - finalTokens,
	}
}

func queryHash(prompt string) string {
	return hashString(prompt)
}

func contextEpoch(currentFile string, recentFiles []string) string {
	return hashString(currentFile + "|" + fmt.Sprint(recentFiles))
}

func hashString(s string) string {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}
