package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korrel8/semcode/internal/chunker"
	"github.com/korrel8/semcode/internal/embedding"
	"github.com/korrel8/semcode/internal/semerr"
	"github.com/korrel8/semcode/internal/vectorstore"
	"github.com/korrel8/semcode/internal/walker"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *vectorstore.Store) {
	t.Helper()
	w, err := walker.New()
	require.NoError(t, err)
	c := chunker.New(chunker.DefaultOptions())
	t.Cleanup(c.Close)
	embedder := embedding.NewStaticEmbedder(8, "test")
	store, err := vectorstore.Open(t.TempDir(), vectorstore.HNSWConfig{Dimension: 8, M: 8, EfConstruction: 50, EfSearch: 20})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(w, c, embedder, store), store
}

func writeProjectFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestRunIndexesFilesAndChunks(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")

	report, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesIndexed)
	assert.Greater(t, report.ChunksIndexed, 0)
	assert.Equal(t, 0, report.FilesFailed)

	stats, err := store.StoreStats()
	require.NoError(t, err)
	assert.Equal(t, report.ChunksIndexed, stats.ChunkCount)
}

func TestRunSkipsUnchangedFileOnSecondRun(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	_, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)

	report2, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report2.FilesIndexed)
	assert.Equal(t, 1, report2.FilesSkipped)
}

func TestRunReturnsErrCancelledWhenContextAlreadyCancelled(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx, Options{Root: root, RespectGitignore: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, semerr.ErrCancelled))
}

func TestRunReindexesChangedFile(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	_, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)

	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {\n\tprintln(\"changed\")\n}\n")
	report2, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report2.FilesIndexed)

	stats, err := store.StoreStats()
	require.NoError(t, err)
	assert.Greater(t, stats.ChunkCount, 0)
}

func TestRunCleansUpDeletedFiles(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "a.go", "package main\n\nfunc A() {}\n")
	writeProjectFile(t, root, "b.go", "package main\n\nfunc B() {}\n")

	_, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))

	report2, err := orch.Run(context.Background(), Options{Root: root, RespectGitignore: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report2.FilesIndexed) // a.go unchanged, b.go gone

	all, err := store.GetAll()
	require.NoError(t, err)
	for _, c := range all {
		assert.NotEqual(t, "b.go", c.FilePath)
	}
}

func TestRunReportsProgress(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	root := t.TempDir()
	writeProjectFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	var calls int
	_, err := orch.Run(context.Background(), Options{
		Root: root, RespectGitignore: true,
		OnProgress: func(pct float64, msg string) { calls++ },
	})
	require.NoError(t, err)
	assert.Greater(t, calls, 0)
}
