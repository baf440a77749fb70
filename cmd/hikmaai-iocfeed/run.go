// ABOUTME: Run command performing one fetch-normalize-write cycle against ThreatFox
// ABOUTME: Flag overrides for source URL, output path, and shape; prints the run summary

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/config"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/feeds"
	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

// runFlags are the per-run overrides shared by run and normalize.
type runFlags struct {
	output    string
	shape     string
	source    string
	noHistory bool
	jsonOut   bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "artifact path (overrides output.path)")
	cmd.Flags().StringVar(&f.shape, "shape", "", "output shape: raw or ip-port (overrides output.shape)")
	cmd.Flags().StringVar(&f.source, "source", "", "source tag written on ip-port records")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record this run in the history store")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run result as JSON")
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.output != "" {
		cfg.Output.Path = f.output
	}
	if f.shape != "" {
		cfg.Output.Shape = f.shape
	}
	if f.source != "" {
		cfg.Feed.Source = f.source
	}
	if f.noHistory {
		cfg.History.Enabled = false
	}
}

func newRunCmd() *cobra.Command {
	var (
		flags runFlags
		url   string
		full  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the ThreatFox export and write the canonical CSV",
		Long: `Fetch the ThreatFox CSV export once, detect its layout, normalize and
deduplicate the rows, and atomically replace the output artifact.

A fatal error (fetch failure, empty payload, unrecognized schema, zero usable
records, write failure) leaves any previous artifact untouched and exits 1.

The abuse.ch API key is read from feed.auth_key or THREATFOX_AUTH_KEY.

Example:
  hikmaai-iocfeed run
  hikmaai-iocfeed run --full --shape ip-port -o /srv/feeds/threatfox.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			switch {
			case url != "":
				cfg.Feed.URL = url
			case full:
				cfg.Feed.URL = feeds.ThreatFoxFullURL
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return runPipeline(cmd.Context(), cfg, newThreatFoxFetcher(cfg.Feed), cmd.OutOrStdout(), flags.jsonOut)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&url, "url", "", "export URL (overrides feed.url)")
	cmd.Flags().BoolVar(&full, "full", false, "use the full ThreatFox export instead of the recent ip:port export")

	return cmd
}

// runPipeline runs fetcher through the configured pipeline and reports
// the outcome on out.
func runPipeline(ctx context.Context, cfg *config.Config, fetcher pipeline.Fetcher, out io.Writer, jsonOut bool) error {
	a, err := newApp(ctx, cfg, fetcher, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	result, runErr := a.run(ctx)
	if result != nil {
		if err := printResult(out, result, jsonOut); err != nil {
			return err
		}
	}
	return runErr
}

func printResult(out io.Writer, r *pipeline.Result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if !r.Succeeded() {
		_, err := fmt.Fprintf(out, "run %s failed [%s]: %s\n", r.RunID, r.ErrorCode, r.Error)
		return err
	}

	_, err := fmt.Fprintf(out,
		"run %s succeeded\n  dialect:    %s\n  lines:      %d\n  dropped:    %d\n  duplicates: %d\n  records:    %d\n  artifact:   %s (%s)\n  sha256:     %s\n",
		r.RunID, r.Dialect, r.Stats.Lines, r.Stats.RowsDropped, r.Stats.Duplicates,
		r.Artifact.Records, r.Artifact.Path, r.Shape, r.Artifact.SHA256,
	)
	if err == nil && r.Stats.Unaddressable > 0 {
		_, err = fmt.Fprintf(out, "  skipped:    %d without an ip:port pair\n", r.Stats.Unaddressable)
	}
	return err
}
