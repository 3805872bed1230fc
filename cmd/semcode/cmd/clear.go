package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the entire index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the index without --yes")
			}

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return fmt.Errorf("clear store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "index cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the entire index")
	return cmd
}
