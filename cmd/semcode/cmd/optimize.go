package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/korrel8/semcode/internal/optimizer"
)

func newOptimizeCmd() *cobra.Command {
	var currentFile string
	var budget int

	cmd := &cobra.Command{
		Use:   "optimize <prompt>",
		Short: "Assemble a token-budget-constrained context for a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			embedder := newEmbedder(cfg)
			defer embedder.Close()

			pipeline, err := newPipeline(cfg, store, embedder)
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			totalBudget := budget
			if totalBudget <= 0 {
				totalBudget = cfg.Optimizer.TokenBudget
			}

			result, err := pipeline.Optimize(context.Background(), optimizer.Request{
				Prompt: prompt, CurrentFile: currentFile, TotalBudget: totalBudget,
				MaxChunks: cfg.Optimizer.MaxChunks, MinRelevance: cfg.Optimizer.MinRelevance,
			})
			if err != nil {
				return fmt.Errorf("optimize: %w", err)
			}

			w := cmd.OutOrStdout()
			for _, region := range result.Regions {
				fmt.Fprintf(w, "--- %s (%d tokens) ---\n%s\n\n", region.Name, region.Tokens, region.Text)
			}
			fmt.Fprintf(w, "model: %s, total_tokens: %d, savings: %d\n", result.ModelID, result.TotalTokens, result.Savings)
			return nil
		},
	}

	cmd.Flags().StringVar(&currentFile, "current-file", "", "path of the file the caller is currently editing")
	cmd.Flags().IntVar(&budget, "budget", 0, "total token budget (defaults to optimizer.token_budget)")
	return cmd
}
