// Package chunker implements the AST-aware chunking half of the indexer
// (C2): splitting one file's content into structurally-meaningful chunks via
// tree-sitter, recursively splitting any oversize node, and falling back to
// a fixed-window line splitter for unsupported languages or parse failures.
package chunker

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/korrel8/semcode/internal/chunkmodel"
)

// Options configures chunk sizing.
type Options struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// DefaultOptions matches the config defaults (chunk_size 400, overlap 50).
func DefaultOptions() Options {
	return Options{MaxChunkTokens: 400, OverlapTokens: 50}
}

// Chunker splits file content into chunkmodel.Chunks.
type Chunker struct {
	opts   Options
	parser *sitter.Parser
}

// New constructs a Chunker. Close must be called when done to release the
// underlying tree-sitter parser.
func New(opts Options) *Chunker {
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultOptions().MaxChunkTokens
	}
	if opts.OverlapTokens <= 0 {
		opts.OverlapTokens = DefaultOptions().OverlapTokens
	}
	return &Chunker{opts: opts, parser: sitter.NewParser()}
}

// Close releases the tree-sitter parser.
func (c *Chunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits content from filePath (tagged with language) into chunks.
// Symbol extraction is advisory: a tree-sitter parse failure never fails
// the whole chunk operation, it only degrades to line-window chunking.
func (c *Chunker) Chunk(ctx context.Context, filePath, language string, content []byte) ([]chunkmodel.Chunk, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, nil
	}

	cfg, ok := registry[language]
	if !ok {
		return c.chunkByLines(filePath, language, content), nil
	}

	c.parser.SetLanguage(cfg.tsLanguage)
	tree, err := c.parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return c.chunkByLines(filePath, language, content), nil
	}

	root := tree.RootNode()
	var chunks []chunkmodel.Chunk
	walk(root, func(n *sitter.Node) bool {
		kind, isSymbol := cfg.classify(n.Type())
		if !isSymbol {
			return true
		}
		chunks = append(chunks, c.chunksFromNode(n, cfg, filePath, language, content, kind)...)
		return false // node fully handled; don't descend into its own symbol children again
	})

	if len(chunks) == 0 {
		return c.chunkByLines(filePath, language, content), nil
	}
	return chunks, nil
}

// walk runs fn depth-first; fn returns whether to descend into n's children.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	descend := fn(n)
	if !descend {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func (c *Chunker) chunksFromNode(n *sitter.Node, cfg languageConfig, filePath, language string, source []byte, kind chunkmodel.Kind) []chunkmodel.Chunk {
	startLine := int(n.StartPoint().Row) + 1
	endLine := int(n.EndPoint().Row) + 1
	text := string(source[n.StartByte():n.EndByte()])

	if chunkmodel.EstimateTokens(text) <= c.opts.MaxChunkTokens {
		ch := chunkmodel.New(filePath, language, startLine, endLine, text)
		ch.Kind = kind
		ch.Signature = firstSignatureLine(text)
		if name := symbolName(n, cfg, source); name != "" {
			ch.Symbols = []string{name}
		}
		return []chunkmodel.Chunk{ch}
	}

	return c.splitByLines(filePath, language, text, startLine, kind)
}

// symbolName looks for the child node type registered for n's type and
// returns its source text, or "" if not found.
func symbolName(n *sitter.Node, cfg languageConfig, source []byte) string {
	wantType, ok := cfg.nameChildTypes[n.Type()]
	if !ok {
		return ""
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == wantType {
			return string(source[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// firstSignatureLine returns a short representative line for the chunk:
// everything up to the first '{', the first line ending in ':' (Python), or
// the first 5 lines, whichever comes first.
func firstSignatureLine(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if idx := strings.IndexAny(trimmed, "{"); idx >= 0 {
			return strings.Join(lines[:i], "\n") + "\n" + trimmed[:idx]
		}
		if strings.HasSuffix(trimmed, ":") {
			return strings.Join(lines[:i+1], "\n")
		}
		if i >= 4 {
			return strings.Join(lines[:5], "\n")
		}
	}
	return content
}

// splitByLines breaks content into overlapping fixed-size chunks, used both
// as the oversize-node fallback and the unsupported-language fallback.
func (c *Chunker) splitByLines(filePath, language, content string, startLine int, kind chunkmodel.Kind) []chunkmodel.Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	maxLinesPerChunk := (c.opts.MaxChunkTokens * 4) / 80
	if maxLinesPerChunk < 10 {
		maxLinesPerChunk = 10
	}
	overlapLines := (c.opts.OverlapTokens * 4) / 80
	if overlapLines < 1 {
		overlapLines = 1
	}

	var chunks []chunkmodel.Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStart := startLine + i
		chunkEnd := startLine + end - 1

		ch := chunkmodel.New(filePath, language, chunkStart, chunkEnd, chunkContent)
		ch.Kind = kind
		chunks = append(chunks, ch)

		if end >= len(lines) {
			break
		}
		next := end - overlapLines
		if next <= i {
			next = end
		}
		i = next
	}
	return chunks
}

// chunkByLines is the unsupported-language / parse-failure fallback.
func (c *Chunker) chunkByLines(filePath, language string, content []byte) []chunkmodel.Chunk {
	return c.splitByLines(filePath, language, string(content), 1, chunkmodel.KindOther)
}
