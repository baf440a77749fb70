// ABOUTME: Main entry point for hikmaai-iocfeed CLI
// ABOUTME: Initializes cobra root command with a signal-aware context and executes CLI

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by ldflags).
var (
	version   = "dev"
	gitSHA    = "unknown"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
