package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the indexed codebase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			embedder := newEmbedder(cfg)
			defer embedder.Close()

			vectors, err := embedder.EmbedBatch(context.Background(), []string{query})
			if err != nil || len(vectors) == 0 {
				return fmt.Errorf("embed query: %w", err)
			}

			results, err := store.Search(vectors[0], k, 0)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			w := cmd.OutOrStdout()
			for i, r := range results {
				fmt.Fprintf(w, "%d. %s:%d-%d (score=%.3f) [%s]\n", i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.Score, r.Chunk.Kind)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 10, "number of results to return")
	return cmd
}
