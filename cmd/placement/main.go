package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var envFileFlag string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "placement",
		Short: "Inbox placement testing for sender accounts",
		Long: `placement registers inbox placement tests for a roster of sender accounts,
sends a probe from each account, polls the measurement service for results and
reports inbox and spam rates per batch and per customer.

Batch state is persisted, so every command can be re-run after an interruption.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Load configuration from this file instead of ./.env")

	root.AddCommand(newBatchCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newPollCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
