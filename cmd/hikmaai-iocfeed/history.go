// ABOUTME: History commands for inspecting and pruning recorded runs
// ABOUTME: Lists newest-first, shows one run in full, and prunes old entries

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/history"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

// withHistory opens the configured history store for the duration of fn.
func withHistory(cmd *cobra.Command, fn func(ctx context.Context, store *history.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := history.Open(history.Config{Path: cfg.History.Path})
	if err != nil {
		return fmt.Errorf("opening history %s: %w", cfg.History.Path, err)
	}
	defer store.Close()

	return fn(cmd.Context(), store)
}

func newHistoryListCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
				runs, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print runs as JSON")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run in full (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
				var (
					run *pipeline.Result
					err error
				)
				if len(args) == 1 {
					run, err = store.Get(ctx, args[0])
				} else {
					run, err = store.Latest(ctx)
				}
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run not found")
				}
				return writeJSON(cmd.OutOrStdout(), run)
			})
		},
	}
}

func newHistoryPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(ctx context.Context, store *history.Store) error {
				removed, err := store.Prune(ctx, keep)
				if err != nil {
					return err
				}
				if err := store.Compact(); err != nil {
					return fmt.Errorf("compacting history: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d runs, kept at most %d\n", removed, keep)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of newest runs to keep")

	return cmd
}

func printRuns(out io.Writer, runs []*pipeline.Result) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tRECORDS\tDROPPED\tDUPLICATES\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Status,
			r.Stats.Records,
			r.Stats.RowsDropped,
			r.Stats.Duplicates,
			r.ErrorCode,
		)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
