// Package orchestrator implements the index orchestrator (C11): driving one
// index run end-to-end over the walker, chunker, embedder and vector store,
// and reporting progress.
package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/korrel8/semcode/internal/checksum"
	"github.com/korrel8/semcode/internal/chunker"
	"github.com/korrel8/semcode/internal/embedding"
	"github.com/korrel8/semcode/internal/semerr"
	"github.com/korrel8/semcode/internal/vectorstore"
	"github.com/korrel8/semcode/internal/walker"
)

// ProgressFunc is called at least once per file and at each phase
// transition, with percent_complete in [0, 100] and a short message.
type ProgressFunc func(percentComplete float64, message string)

// Options configures one index run.
type Options struct {
	Root             string
	IncludePatterns  []string
	ExcludePatterns  []string
	RespectGitignore bool
	FollowSymlinks   bool
	MaxFileSize      int64
	EmbedBatchSize   int
	OnProgress       ProgressFunc
}

// Report is the final summary of an index run.
type Report struct {
	FilesIndexed  int
	ChunksIndexed int
	FilesSkipped  int
	FilesFailed   int
	Duration      time.Duration
}

// Orchestrator drives index runs against a vector store.
type Orchestrator struct {
	walker   *walker.Walker
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	store    *vectorstore.Store
}

// New constructs an Orchestrator from its collaborators.
func New(w *walker.Walker, c *chunker.Chunker, embedder embedding.Embedder, store *vectorstore.Store) *Orchestrator {
	return &Orchestrator{walker: w, chunker: c, embedder: embedder, store: store}
}

// Run executes one index run end-to-end. A failed file never aborts the
// run; its error is counted and the run continues.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Report, error) {
	start := time.Now()
	report := Report{}
	progress := opts.OnProgress
	if progress == nil {
		progress = func(float64, string) {}
	}

	batchSize := opts.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	progress(0, fmt.Sprintf("scanning %s", opts.Root))
	results, err := o.walker.Walk(ctx, walker.Options{
		Root: opts.Root, IncludePatterns: opts.IncludePatterns, ExcludePatterns: opts.ExcludePatterns,
		RespectGitignore: opts.RespectGitignore, FollowSymlinks: opts.FollowSymlinks, MaxFileSize: opts.MaxFileSize,
	})
	if err != nil {
		return report, err
	}

	var files []walker.Result
	for r := range results {
		files = append(files, r)
	}
	if ctx.Err() != nil {
		return report, semerr.ErrCancelled
	}

	currentPaths := make(map[string]bool, len(files))
	total := len(files)

	for i, r := range files {
		select {
		case <-ctx.Done():
			return report, semerr.ErrCancelled
		default:
		}

		pct := float64(i) / float64(max(total, 1)) * 100
		if r.Error != nil || r.File == nil {
			report.FilesFailed++
			progress(pct, fmt.Sprintf("skip (scan error): %v", r.Error))
			continue
		}

		currentPaths[r.File.Path] = true
		progress(pct, fmt.Sprintf("indexing %s", r.File.Path))

		if err := o.indexOneFile(ctx, r.File, batchSize, &report); err != nil {
			report.FilesFailed++
			slog.Warn("index_file_failed", slog.String("path", r.File.Path), slog.String("error", err.Error()))
			continue
		}
	}

	progress(95, "detecting deleted files")
	if err := o.cleanupDeleted(currentPaths, &report); err != nil {
		slog.Warn("index_cleanup_failed", slog.String("error", err.Error()))
	}

	progress(98, "persisting index")
	if err := o.store.Persist(); err != nil {
		slog.Warn("index_persist_failed", slog.String("error", err.Error()))
	}
	indexID, err := o.currentIndexID()
	if err != nil {
		slog.Warn("index_id_lookup_failed", slog.String("error", err.Error()))
		indexID = uuid.NewString()
	}
	if err := o.store.PutIndexMetadata(indexID, report.FilesIndexed, report.ChunksIndexed, 1); err != nil {
		slog.Warn("index_metadata_failed", slog.String("error", err.Error()))
	}

	report.Duration = time.Since(start)
	progress(100, "done")

	slog.Info("index_complete",
		slog.Int("files_indexed", report.FilesIndexed),
		slog.Int("chunks_indexed", report.ChunksIndexed),
		slog.Int("files_skipped", report.FilesSkipped),
		slog.Int("files_failed", report.FilesFailed),
		slog.Duration("duration", report.Duration))

	return report, nil
}

func (o *Orchestrator) indexOneFile(ctx context.Context, file *walker.File, batchSize int, report *Report) error {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Path, err)
	}
	sum := checksum.Sum(content)

	existing, err := o.store.GetFileRecord(file.Path)
	if err != nil {
		return fmt.Errorf("load file record for %s: %w", file.Path, err)
	}
	if !checksum.NeedsReindex(existing, sum) {
		report.FilesSkipped++
		return nil
	}

	// Invariant I6: a pre-existing file must have its prior chunks and
	// vectors removed before re-chunking, so stale regions never linger.
	if existing != nil {
		if err := o.store.DeleteByFile(file.Path); err != nil {
			return fmt.Errorf("delete stale chunks for %s: %w", file.Path, err)
		}
	}

	chunks, err := o.chunker.Chunk(ctx, file.Path, file.Language, content)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", file.Path, err)
	}
	if len(chunks) == 0 {
		if err := o.putRecord(file, sum, 0); err != nil {
			return err
		}
		report.FilesIndexed++
		return nil
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Content
		}
		batchVectors, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", file.Path, err)
		}
		vectors = append(vectors, batchVectors...)
	}

	if err := o.store.InsertBatch(chunks, vectors); err != nil {
		return fmt.Errorf("insert chunks for %s: %w", file.Path, err)
	}

	if err := o.putRecord(file, sum, len(chunks)); err != nil {
		return err
	}

	report.FilesIndexed++
	report.ChunksIndexed += len(chunks)
	return nil
}

func (o *Orchestrator) putRecord(file *walker.File, sum string, chunkCount int) error {
	record := checksum.FileRecord{
		Path: file.Path, Checksum: sum, FileSize: file.Size,
		LastModified: file.ModTime, LastIndexed: time.Now().UnixMilli(), ChunkCount: chunkCount,
	}
	if err := o.store.PutFileRecord(record); err != nil {
		return fmt.Errorf("put file record for %s: %w", file.Path, err)
	}
	return nil
}

func (o *Orchestrator) cleanupDeleted(currentPaths map[string]bool, report *Report) error {
	deleted, err := o.store.DetectDeleted(currentPaths)
	if err != nil {
		return err
	}
	for _, path := range deleted {
		if err := o.store.MarkDeleted(path); err != nil {
			slog.Warn("index_cleanup_mark_deleted_failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if err := o.store.DeleteByFile(path); err != nil {
			slog.Warn("index_cleanup_delete_failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if err := o.store.MarkCleaned(path); err != nil {
			slog.Warn("index_cleanup_mark_cleaned_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return nil
}

// currentIndexID returns this store's existing IndexMetadata.index_id, or a
// fresh github.com/google/uuid value the first time a store is ever indexed
// (Run then persists it through PutIndexMetadata).
func (o *Orchestrator) currentIndexID() (string, error) {
	meta, err := o.store.GetIndexMetadata()
	if err != nil {
		return "", err
	}
	if meta != nil {
		return meta.IndexID, nil
	}
	return uuid.NewString(), nil
}

// DefaultWatchDebounce is the coalescing window applied between a filesystem
// event and the incremental re-index run it triggers, matching the
// teacher's own debounced-reindex window.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch runs one initial index pass, then watches opts.Root for filesystem
// changes and triggers the same incremental Run path whenever the tree goes
// quiet for debounce. It blocks until ctx is cancelled. Each completed run
// (initial or triggered) is reported through onRun.
func (o *Orchestrator) Watch(ctx context.Context, opts Options, debounce time.Duration, onRun func(Report, error)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if onRun == nil {
		onRun = func(Report, error) {}
	}

	report, err := o.Run(ctx, opts)
	onRun(report, err)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer w.Close()

	if err := addWatchDirs(w, opts.Root); err != nil {
		return fmt.Errorf("watch %s: %w", opts.Root, err)
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = w.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))

		case <-timerChan(timer):
			report, err := o.Run(ctx, opts)
			onRun(report, err)
			timer = nil
		}
	}
}

// timerChan returns t.C, or a nil channel (which blocks forever in a select)
// when t hasn't been started yet.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func addWatchDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == ".semcode" {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
