package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func newWakeCommand() *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Start the compute node if work is waiting and wait until it is ready",
		Long: "wake samples the queue once and prints the outcome as JSON. " +
			"With --every it keeps running and nudges on each interval.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := app.shutdownContext()
				defer cancel()
				app.cleanup(ctx)
			}()

			q, err := app.newQueue(ctx)
			if err != nil {
				return err
			}
			controller, err := app.newWakeController(q)
			if err != nil {
				return err
			}

			if every > 0 {
				controller.Run(ctx, every)
				return nil
			}

			result, err := controller.Nudge(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "nudge repeatedly on this interval instead of once")
	return cmd
}
