package optimizer

import (
	"regexp"
	"strings"
)

// Intent tags the user's apparent goal for a query.
type Intent string

const (
	IntentBugFix      Intent = "bug_fix"
	IntentNewFeature  Intent = "new_feature"
	IntentExplanation Intent = "explanation"
	IntentRefactor    Intent = "refactor"
	IntentOther       Intent = "other"
)

// QueryIntent is the output of intent detection: a tag plus any symbols the
// prompt referenced by name.
type QueryIntent struct {
	Intent           Intent
	ReferencedSymbols []string
	Complexity       float64 // rough [0,1] estimate used by the model router
}

var (
	bugFixRe      = regexp.MustCompile(`(?i)\b(bug|fix|broken|crash|error|fail(s|ing)?|panic|regression)\b`)
	newFeatureRe  = regexp.MustCompile(`(?i)\b(add|implement|support|new feature|feature request)\b`)
	explanationRe = regexp.MustCompile(`(?i)\b(explain|how does|what does|understand|walk me through|why)\b`)
	refactorRe    = regexp.MustCompile(`(?i)\b(refactor|clean up|restructure|simplify|rename|reorganize)\b`)
	symbolRe      = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]*|[a-z][a-zA-Z0-9]*(?:[A-Z][a-zA-Z0-9]*)+|[a-z_][a-z0-9_]*_[a-z0-9_]+)\b`)
)

// DetectIntent classifies prompt into a small tag set and extracts any
// symbol-looking identifiers it references.
func DetectIntent(prompt string) QueryIntent {
	intent := IntentOther
	switch {
	case bugFixRe.MatchString(prompt):
		intent = IntentBugFix
	case newFeatureRe.MatchString(prompt):
		intent = IntentNewFeature
	case refactorRe.MatchString(prompt):
		intent = IntentRefactor
	case explanationRe.MatchString(prompt):
		intent = IntentExplanation
	}

	symbols := extractSymbols(prompt)
	complexity := estimateComplexity(prompt, intent, symbols)

	return QueryIntent{Intent: intent, ReferencedSymbols: symbols, Complexity: complexity}
}

func extractSymbols(prompt string) []string {
	matches := symbolRe.FindAllString(prompt, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if isCommonWord(m) {
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

var commonWords = map[string]bool{
	"The": true, "This": true, "That": true, "And": true, "But": true,
	"For": true, "With": true, "How": true, "What": true, "Why": true,
}

func isCommonWord(s string) bool {
	return commonWords[s]
}

// estimateComplexity is a coarse heuristic: longer prompts, more referenced
// symbols, and refactor/bug-fix intents (which tend to require broader
// context) push complexity up.
func estimateComplexity(prompt string, intent Intent, symbols []string) float64 {
	score := 0.0
	wordCount := len(strings.Fields(prompt))
	switch {
	case wordCount > 200:
		score += 0.5
	case wordCount > 80:
		score += 0.3
	case wordCount > 20:
		score += 0.15
	}

	switch len(symbols) {
	case 0:
	case 1, 2:
		score += 0.1
	default:
		score += 0.25
	}

	switch intent {
	case IntentRefactor, IntentBugFix:
		score += 0.2
	case IntentNewFeature:
		score += 0.15
	}

	if score > 1 {
		score = 1
	}
	return score
}
