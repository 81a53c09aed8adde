package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pollbridge/internal/inspect"
	"github.com/mattjoyce/pollbridge/internal/storage"
)

func inspectCmd() *cobra.Command {
	var (
		jsonOut bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "inspect [invocation-id]",
		Short: "Show journaled invocations",
		Long: `Show journaled invocations.

Without an id, prints status counts, the most recent invocations and
ignored completions. With an id, prints that invocation's lifecycle.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return fmt.Errorf("journal is disabled (journal.path is empty)")
			}
			if _, err := os.Stat(cfg.Journal.Path); err != nil {
				return fmt.Errorf("journal %s: %w", cfg.Journal.Path, err)
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			ctx := cmd.Context()
			db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			var out string
			switch {
			case len(args) == 1 && jsonOut:
				out, err = inspect.BuildJSONReport(ctx, db, args[0])
			case len(args) == 1:
				out, err = inspect.BuildReport(ctx, db, args[0])
			case jsonOut:
				out, err = inspect.BuildJSONSummary(ctx, db, limit)
			default:
				out, err = inspect.BuildSummary(ctx, db, limit)
			}
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), out)
			if jsonOut {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent invocations to show")
	return cmd
}
