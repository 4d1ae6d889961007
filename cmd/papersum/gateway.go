package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/phrazzld/papersum/internal/api"
	"github.com/phrazzld/papersum/internal/gateway"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/task"
	"github.com/phrazzld/papersum/internal/wake"
	"github.com/spf13/cobra"
)

func newGatewayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the enqueue gateway, with optional periodic wake and stale record sweep",
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

			return app.runGateway(cmd.Context())
		},
	}
}

// gatewayComponents is the wired gateway. Background loops are nil when
// disabled.
type gatewayComponents struct {
	router  http.Handler
	waker   *wake.Controller
	sweeper *task.StaleSweeper
}

func (app *application) buildGateway(ctx context.Context) (*gatewayComponents, error) {
	records, err := app.newRecordStore(ctx)
	if err != nil {
		return nil, err
	}
	q, err := app.newQueue(ctx)
	if err != nil {
		return nil, err
	}

	service, err := gateway.NewService(records, q, app.clock, app.logger)
	if err != nil {
		return nil, err
	}
	components := &gatewayComponents{
		router: api.NewGatewayRouter(api.NewSummaryHandler(service, app.logger), app.logger),
	}

	if app.config.Wake.Every > 0 {
		components.waker, err = app.newWakeController(q)
		if err != nil {
			return nil, err
		}
	}

	if app.config.Records.StaleAfter > 0 {
		components.sweeper, err = task.NewStaleSweeper(records, task.StaleSweeperConfig{
			StaleAfter:    app.config.Records.StaleAfter,
			CheckInterval: app.config.Records.StaleCheckInterval,
		}, app.clock, app.logger)
		if err != nil {
			return nil, err
		}
	}

	return components, nil
}

func (app *application) runGateway(ctx context.Context) error {
	gw, err := app.buildGateway(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if gw.waker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw.waker.Run(ctx, app.config.Wake.Every)
		}()
	}
	if gw.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw.sweeper.Run(ctx)
		}()
	}

	serveErr := app.serveHTTP(ctx, gw.router)
	cancel()
	wg.Wait()
	return serveErr
}

// newWakeController builds the controller for the configured instance. The
// health probe is skipped when no service URL is set.
func (app *application) newWakeController(q queue.Queue) (*wake.Controller, error) {
	instance := app.newInstance()
	if instance == nil {
		return nil, errors.New("wake.instance_id is required to wake the compute node")
	}

	cfg := app.config.Wake
	var prober wake.Prober
	if cfg.ServiceURL != "" {
		prober = wake.NewHTTPProber(cfg.ServiceURL, cfg.ProbeTimeout)
	}

	return wake.NewController(q, instance, prober, wake.Config{
		StartTimeout: cfg.StartTimeout,
		ReadyTimeout: cfg.ReadyTimeout,
		PollInterval: cfg.PollInterval,
		Clock:        app.clock,
	}, app.logger)
}
