// Package main implements the papersum command: the compute node that
// consumes summarization tasks, the enqueue gateway in front of it, and the
// operational tools around them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. It is separate from main so tests
// can execute commands in-process.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "papersum",
		Short:         "Autoscaling paper summarization",
		Long:          "papersum moves summarization tasks from a durable queue onto an on-demand compute node and keeps a durable record per paper.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file (default ./config.yaml when present)")

	root.AddCommand(
		newNodeCommand(),
		newGatewayCommand(),
		newWakeCommand(),
		newMigrateCommand(),
		newTokenCommand(),
	)
	return root
}
