package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			storeStats, err := store.StoreStats()
			if err != nil {
				return fmt.Errorf("store stats: %w", err)
			}
			checksumStats, err := store.ChecksumStats()
			if err != nil {
				return fmt.Errorf("checksum stats: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "files:          %d\n", checksumStats.TotalFiles)
			fmt.Fprintf(w, "chunks:         %d\n", storeStats.ChunkCount)
			fmt.Fprintf(w, "vectors:        %d\n", storeStats.VectorCount)
			fmt.Fprintf(w, "pending cleanup: %d\n", checksumStats.PendingCleanup)
			fmt.Fprintln(w, "languages:")
			for lang, count := range storeStats.Languages {
				fmt.Fprintf(w, "  %-12s %d\n", lang, count)
			}
			return nil
		},
	}
}
