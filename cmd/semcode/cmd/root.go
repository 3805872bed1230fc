// Package cmd provides the CLI commands for semcode.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/korrel8/semcode/internal/config"
	"github.com/korrel8/semcode/pkg/version"
)

var (
	configPath string
	cfg        config.Config
)

// NewRootCmd creates the root command for the semcode CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "semcode",
		Short: "Local semantic code search and context optimization",
		Long: `semcode indexes a codebase into structurally-aware chunks, embeds and
stores them locally, and serves semantic search and token-budget-constrained
context assembly for AI coding assistants.

It runs entirely locally with zero required external services.`,
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil && configPath != "" {
				return err
			}
			cfg = loaded
			level := slog.LevelInfo
			if cfg.Log.Level == "debug" {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.SetVersionTemplate("semcode version {{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to semcode.yaml (defaults to built-in config)")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newOptimizeCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newClearCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
