package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/korrel8/semcode/internal/orchestrator"
	"github.com/korrel8/semcode/internal/progress"
)

func newIndexCmd() *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for semantic search",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			w, err := newWalker()
			if err != nil {
				return err
			}
			c := newChunker(cfg)
			defer c.Close()
			embedder := newEmbedder(cfg)
			defer embedder.Close()

			orch := orchestrator.New(w, c, embedder, store)

			out := cmd.OutOrStdout()
			var renderer progress.Renderer
			if noProgress {
				renderer = progress.NewPlain(out)
			} else {
				renderer = progress.New(out)
			}

			report, err := orch.Run(ctx, orchestrator.Options{
				Root:             absPath,
				IncludePatterns:  cfg.Indexer.IncludePatterns,
				ExcludePatterns:  cfg.Indexer.ExcludePatterns,
				RespectGitignore: cfg.Indexer.HonorVCSIgnore,
				MaxFileSize:      cfg.Indexer.MaxFileSize,
				EmbedBatchSize:   cfg.Embedding.BatchSize,
				OnProgress:       renderer.Update,
			})
			if err != nil {
				return fmt.Errorf("index run: %w", err)
			}

			renderer.Complete(fmt.Sprintf(
				"indexed %d files, %d chunks (%d skipped, %d failed) in %s",
				report.FilesIndexed, report.ChunksIndexed, report.FilesSkipped, report.FilesFailed, report.Duration.Round(time.Millisecond)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable live progress updates")
	return cmd
}
