package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/phrazzld/papersum/internal/api"
	"github.com/phrazzld/papersum/internal/task"
	"github.com/spf13/cobra"
)

func newNodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "node",
		Short: "Run the compute node: queue consumer, idle shutdown and status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := app.shutdownContext()
				defer cancel()
				app.cleanup(ctx)
			}()

			return app.runNode(cmd.Context())
		},
	}
}

// nodeComponents is the wired compute node.
type nodeComponents struct {
	processor *task.Processor
	router    http.Handler
}

// reclaimer is implemented by queues without a visibility timeout, which
// must return orphaned in-flight messages on startup.
type reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

func (app *application) buildNode(ctx context.Context) (*nodeComponents, error) {
	q, err := app.newQueue(ctx)
	if err != nil {
		return nil, err
	}
	if r, ok := q.(reclaimer); ok {
		n, err := r.Reclaim(ctx)
		if err != nil {
			return nil, err
		}
		app.logger.Info("reclaimed in-flight messages", "count", n)
	}

	records, err := app.newRecordStore(ctx)
	if err != nil {
		return nil, err
	}
	summarizer, err := app.newSummarizer(ctx)
	if err != nil {
		return nil, err
	}
	terminator, err := app.newTerminator()
	if err != nil {
		return nil, err
	}
	tokens, err := app.newTokenService()
	if err != nil {
		return nil, err
	}

	processor, err := task.NewProcessor(task.Dependencies{
		Queue:      q,
		Records:    records,
		Extractor:  app.newExtractor(),
		Summarizer: summarizer,
		Archiver:   app.newArchiver(),
		Terminator: terminator,
		Clock:      app.clock,
	}, app.processorConfig(), app.logger)
	if err != nil {
		return nil, err
	}

	handler := api.NewNodeHandler(processor, q, api.NodeHandlerConfig{
		Cooldown:      app.config.Node.Cooldown,
		RemoteLogging: app.remoteLogging(),
	}, app.logger)

	return &nodeComponents{
		processor: processor,
		router:    api.NewNodeRouter(handler, tokens, app.logger),
	}, nil
}

// runNode runs the processing loop and the HTTP server until ctx ends or the
// processor requests shutdown.
func (app *application) runNode(ctx context.Context) error {
	node, err := app.buildNode(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	processorErr := make(chan error, 1)
	go func() {
		processorErr <- node.processor.Run(ctx)
		cancel()
	}()

	serveErr := app.serveHTTP(ctx, node.router)
	cancel()
	node.processor.Stop()

	return errors.Join(serveErr, <-processorErr)
}
