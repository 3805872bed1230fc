// Package compress implements the adaptive compressor (C8): reducing a
// chunk's token footprint toward a target budget through four fixed
// compression levels, each trading fidelity for size.
package compress

import (
	"regexp"
	"strings"

	"github.com/korrel8/semcode/internal/chunkmodel"
)

// Level names a fixed compression level, attempted in order.
type Level string

const (
	LevelLight          Level = "light"
	LevelMedium         Level = "medium"
	LevelAggressive     Level = "aggressive"
	LevelSignatureOnly  Level = "signature_only"
)

var levelOrder = []Level{LevelLight, LevelMedium, LevelAggressive, LevelSignatureOnly}

// approxRatio is the rough ratio ceiling associated with each level, used
// only to decide whether max_compression_ratio should skip a level before
// it is even attempted.
var approxRatio = map[Level]float64{
	LevelLight:         1.3,
	LevelMedium:        3.0,
	LevelAggressive:    15.0,
	LevelSignatureOnly: 30.0,
}

// Options configures the compressor.
type Options struct {
	PreserveImports      bool
	PreserveTypes        bool
	MaxCompressionRatio  float64 // 0 = unbounded
}

// Result is the outcome of compressing one chunk.
type Result struct {
	Content         string
	Level           Level
	OriginalTokens  int
	CompressedTokens int
	Ratio           float64
	Success         bool
}

// Compressor applies the four-level adaptive compression algorithm.
type Compressor struct {
	opts Options
}

// New constructs a Compressor.
func New(opts Options) *Compressor {
	return &Compressor{opts: opts}
}

// Compress reduces chunk.Content toward targetTokens, trying each level in
// fixed order and falling back to truncation if even signature_only
// exceeds the target.
func (c *Compressor) Compress(chunk chunkmodel.Chunk, targetTokens int) Result {
	original := chunkmodel.EstimateTokens(chunk.Content)
	if targetTokens <= 0 {
		targetTokens = original
	}
	if original <= targetTokens {
		return Result{
			Content: chunk.Content, Level: LevelLight,
			OriginalTokens: original, CompressedTokens: original,
			Ratio: 1, Success: true,
		}
	}

	var deepestLevel Level = LevelLight
	deepestOutput := chunk.Content

	for _, level := range levelOrder {
		if c.opts.MaxCompressionRatio > 0 && approxRatio[level] > c.opts.MaxCompressionRatio {
			continue
		}
		out := c.apply(chunk, level)
		deepestLevel, deepestOutput = level, out
		tokens := chunkmodel.EstimateTokens(out)
		if tokens <= targetTokens {
			return Result{
				Content: out, Level: level,
				OriginalTokens: original, CompressedTokens: tokens,
				Ratio: ratio(original, tokens), Success: true,
			}
		}
	}

	// Even the deepest level allowed by max_compression_ratio exceeds the
	// target: truncate at a line boundary to roughly 90% of target_tokens.
	// Truncation may produce syntactically invalid text; that is an accepted
	// tradeoff at this last resort.
	truncated := truncateToTokens(deepestOutput, int(float64(targetTokens)*0.9))
	tokens := chunkmodel.EstimateTokens(truncated)
	return Result{
		Content: truncated, Level: deepestLevel,
		OriginalTokens: original, CompressedTokens: tokens,
		Ratio: ratio(original, tokens), Success: true,
	}
}

// Batch compresses chunks against a common targetTokens, preserving input
// order.
func (c *Compressor) Batch(chunks []chunkmodel.Chunk, targetTokens int) []Result {
	results := make([]Result, len(chunks))
	for i, chunk := range chunks {
		results[i] = c.Compress(chunk, targetTokens)
	}
	return results
}

func ratio(original, compressed int) float64 {
	if compressed <= 0 {
		return float64(original)
	}
	return float64(original) / float64(compressed)
}

func (c *Compressor) apply(chunk chunkmodel.Chunk, level Level) string {
	switch level {
	case LevelLight:
		return stripComments(chunk.Content, true)
	case LevelMedium:
		return collapseWhitespace(stripComments(chunk.Content, true))
	case LevelAggressive:
		return c.aggressive(chunk)
	case LevelSignatureOnly:
		return c.signatureOnly(chunk)
	}
	return chunk.Content
}

var (
	lineCommentRe  = regexp.MustCompile(`(^|[^:"'])//[^\n]*`)
	hashCommentRe  = regexp.MustCompile(`(^|\s)#[^\n]*`)
	blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	whitespaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
)

// stripComments removes single-line and block comments. removeBlankLines
// additionally drops every blank (whitespace-only) line.
func stripComments(content string, removeBlankLines bool) string {
	out := blockCommentRe.ReplaceAllString(content, "")
	out = lineCommentRe.ReplaceAllString(out, "$1")
	out = hashCommentRe.ReplaceAllString(out, "$1")
	if removeBlankLines {
		lines := strings.Split(out, "\n")
		var kept []string
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				kept = append(kept, l)
			}
		}
		out = strings.Join(kept, "\n")
	}
	return out
}

func collapseWhitespace(content string) string {
	out := blankLinesRe.ReplaceAllString(content, "\n\n")
	out = whitespaceRunRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// aggressive keeps signatures, optionally imports and type definitions, and
// key structural markers, dropping bodies.
func (c *Compressor) aggressive(chunk chunkmodel.Chunk) string {
	lines := strings.Split(chunk.Content, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		switch {
		case c.opts.PreserveImports && isImportLine(trimmed):
			kept = append(kept, line)
		case c.opts.PreserveTypes && isTypeLine(trimmed):
			kept = append(kept, line)
		case isStructuralMarker(trimmed):
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return signatureLines(chunk)
	}
	return strings.Join(kept, "\n")
}

// signatureOnly keeps the chunk's signature (and imports, if enabled),
// dropping everything else.
func (c *Compressor) signatureOnly(chunk chunkmodel.Chunk) string {
	var parts []string
	if c.opts.PreserveImports {
		for _, line := range strings.Split(chunk.Content, "\n") {
			if isImportLine(strings.TrimSpace(line)) {
				parts = append(parts, line)
			}
		}
	}
	parts = append(parts, signatureLines(chunk))
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func signatureLines(chunk chunkmodel.Chunk) string {
	if chunk.Signature != "" {
		return chunk.Signature
	}
	lines := strings.Split(chunk.Content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if idx := strings.IndexAny(trimmed, "{"); idx >= 0 {
			return strings.Join(lines[:i], "\n") + "\n" + trimmed[:idx]
		}
		if strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, ";") || strings.Contains(trimmed, "=>") {
			return strings.Join(lines[:i+1], "\n")
		}
		if i >= 4 {
			return strings.Join(lines[:5], "\n")
		}
	}
	return chunk.Content
}

var (
	importRe = regexp.MustCompile(`^\s*(import\s|require\(|from\s+\S+\s+import|using\s+|#include\s)`)
	typeRe   = regexp.MustCompile(`^\s*(type\s|interface\s|class\s|struct\s)`)
	methodHeaderRe = regexp.MustCompile(`^\s*(public|private|protected|func|def|static|async)\b`)
	controlFlowRe  = regexp.MustCompile(`^\s*(if|for|while|switch|case|else|try|catch)\b.*[:{]\s*$`)
)

func isImportLine(line string) bool { return importRe.MatchString(line) }
func isTypeLine(line string) bool   { return typeRe.MatchString(line) }

func isStructuralMarker(line string) bool {
	return methodHeaderRe.MatchString(line) || controlFlowRe.MatchString(line)
}

// truncateToTokens cuts content at the nearest preceding newline so that the
// result estimates to at most targetTokens.
func truncateToTokens(content string, targetTokens int) string {
	if targetTokens <= 0 {
		return ""
	}
	targetChars := targetTokens * 4
	if targetChars >= len(content) {
		return content
	}
	cut := strings.LastIndex(content[:targetChars], "\n")
	if cut <= 0 {
		cut = targetChars
	}
	return content[:cut]
}
