// ABOUTME: Root command for hikmaai-iocfeed CLI
// ABOUTME: Sets up global flags and subcommands

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/config"
)

// Global flags.
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hikmaai-iocfeed",
		Short: "HikmaAI IOC feed - ThreatFox CSV normalizer",
		Long: `hikmaai-iocfeed fetches the abuse.ch ThreatFox CSV export, detects which
of its known layouts the snapshot uses, normalizes and deduplicates the rows,
and atomically writes one canonical CSV artifact.

Each invocation performs exactly one run; schedule it externally (cron,
systemd timers, Kubernetes CronJob). Optional sinks announce new artifacts
over NATS or Redis and upload them to GCS.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file, YAML or .toml (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newNormalizeCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newShapesCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hikmaai-iocfeed version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}
