// Package router implements the model router (C10): picking a target model
// tier from a prompt's total token footprint and an estimated complexity.
package router

import (
	"sort"

	"github.com/korrel8/semcode/internal/config"
)

// Router selects a model id for a given token count and complexity.
type Router struct {
	tiers       []tier
	preferLocal bool
	localModels map[string]bool // model id -> locally reachable
}

type tier struct {
	name          string
	maxTokens     int
	complexityCap float64
	modelID       string
}

// New builds a Router from configuration. localModels names the model ids
// that are actually reachable locally right now; it may be empty.
func New(cfg config.RouterConfig, localModels map[string]bool) *Router {
	tiers := make([]tier, 0, len(cfg.Thresholds))
	for name, t := range cfg.Thresholds {
		tiers = append(tiers, tier{name: name, maxTokens: t.MaxTokens, complexityCap: t.ComplexityCap, modelID: t.ModelID})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].maxTokens < tiers[j].maxTokens })

	if localModels == nil {
		localModels = map[string]bool{}
	}
	return &Router{tiers: tiers, preferLocal: cfg.PreferLocal, localModels: localModels}
}

// Select picks a model id for totalTokens and complexity in [0, 1].
// Complexity can independently bump the decision up one tier regardless of
// token count. When prefer_local is set and a reachable local model exists
// at or above the selected tier, it overrides the tier's configured model.
func (r *Router) Select(totalTokens int, complexity float64) string {
	if len(r.tiers) == 0 {
		return ""
	}

	idx := len(r.tiers) - 1
	for i, t := range r.tiers {
		if totalTokens <= t.maxTokens {
			idx = i
			break
		}
	}

	if complexity > r.tiers[idx].complexityCap && idx < len(r.tiers)-1 {
		idx++
	}

	if r.preferLocal {
		for i := idx; i < len(r.tiers); i++ {
			if r.localModels[r.tiers[i].modelID] {
				return r.tiers[i].modelID
			}
		}
	}
	return r.tiers[idx].modelID
}
