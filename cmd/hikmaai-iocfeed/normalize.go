// ABOUTME: Normalize command running the pipeline over a local export file
// ABOUTME: Same detection, dedup, and atomic write guarantees as run, without a fetch

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/feeds"
)

func newNormalizeCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Normalize a local ThreatFox export into the canonical CSV",
		Long: `Normalize a ThreatFox CSV export that was downloaded out of band.
Plain, ZIP, and GZIP files are accepted.

Example:
  hikmaai-iocfeed normalize full.csv.zip -o threatfox.csv
  hikmaai-iocfeed normalize recent.csv --shape ip-port --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return runPipeline(cmd.Context(), cfg, feeds.NewFileSource(args[0]), cmd.OutOrStdout(), flags.jsonOut)
		},
	}

	flags.register(cmd)

	return cmd
}
