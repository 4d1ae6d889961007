// Package wake starts the compute node when work is waiting and confirms
// that its service is ready. Every wait is bounded; a node that does not come
// up in time yields a degraded Result rather than an error.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/sethvargo/go-retry"
)

// Instance is the compute node as seen through its control plane.
type Instance interface {
	ID() string
	State(ctx context.Context) (domain.PowerState, error)
	Start(ctx context.Context) error
}

// Prober checks the node's service health. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config bounds the controller's waits.
type Config struct {
	// StartTimeout bounds the wait for the instance to reach running
	StartTimeout time.Duration

	// ReadyTimeout bounds the wait for the health endpoint to answer 200
	ReadyTimeout time.Duration

	// PollInterval is the delay between state or health checks
	PollInterval time.Duration

	// Clock schedules the Run loop. Nil means wall time.
	Clock clock.Clock
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		StartTimeout: 300 * time.Second,
		ReadyTimeout: 300 * time.Second,
		PollInterval: 10 * time.Second,
		Clock:        clock.New(),
	}
}

// Result describes what a nudge observed and did.
type Result struct {
	QueueDepth   int64             `json:"queue_depth"`
	InstanceID   string            `json:"instance_id,omitempty"`
	InitialState domain.PowerState `json:"initial_state,omitempty"`
	FinalState   domain.PowerState `json:"final_state,omitempty"`
	Started      bool              `json:"started"`
	Ready        bool              `json:"ready"`
	TimedOut     bool              `json:"timed_out"`
}

var errNotRunning = errors.New("instance not running")

// Controller wakes the compute node on demand.
type Controller struct {
	queue    queue.Queue
	instance Instance
	prober   Prober
	config   Config
	logger   *slog.Logger
}

// NewController creates a Controller. prober may be nil, in which case
// service readiness is never confirmed.
func NewController(q queue.Queue, instance Instance, prober Prober, config Config, logger *slog.Logger) (*Controller, error) {
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if instance == nil {
		return nil, errors.New("instance cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	def := DefaultConfig()
	if config.StartTimeout <= 0 {
		config.StartTimeout = def.StartTimeout
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = def.ReadyTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}

	return &Controller{
		queue:    q,
		instance: instance,
		prober:   prober,
		config:   config,
		logger:   logger.With("component", "wake_controller", "instance_id", instance.ID()),
	}, nil
}

// Nudge samples the queue and, when work is waiting, makes sure the node is
// running and healthy. Errors are returned only when the queue or control
// plane cannot be read, the start request fails, or ctx ends.
func (c *Controller) Nudge(ctx context.Context) (*Result, error) {
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sample queue depth: %w", err)
	}

	result := &Result{QueueDepth: depth.Visible, InstanceID: c.instance.ID()}
	c.logger.Info("sampled queue depth", "visible", depth.Visible, "in_flight", depth.InFlight)

	if depth.Visible == 0 {
		c.logger.Info("no messages in queue")
		return result, nil
	}

	state, err := c.instance.State(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read instance state: %w", err)
	}
	result.InitialState = state
	result.FinalState = state
	c.logger.Info("current instance state", "state", state)

	switch {
	case state.NeedsStart():
		c.logger.Info("starting instance")
		if err := c.instance.Start(ctx); err != nil {
			return result, fmt.Errorf("%w: %w", domain.ErrNodeUnavailable, err)
		}
		result.Started = true

		final, err := c.waitRunning(ctx)
		result.FinalState = final
		if err != nil {
			return c.finish(ctx, result, err)
		}
		c.logger.Info("instance is running, ensuring service is ready")
		return c.finish(ctx, result, c.waitReady(ctx, result))

	case state == domain.PowerStateRunning:
		return c.finish(ctx, result, c.waitReady(ctx, result))

	default:
		c.logger.Info("instance is in a transitional state, no action taken", "state", state)
		return result, nil
	}
}

// finish turns a bounded-wait failure into a degraded result. Only
// cancellation of ctx is reported as an error.
func (c *Controller) finish(ctx context.Context, result *Result, err error) (*Result, error) {
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	result.TimedOut = true
	c.logger.Warn("timed out waiting for node",
		"final_state", result.FinalState,
		"error", err)
	return result, nil
}

func (c *Controller) waitRunning(ctx context.Context) (domain.PowerState, error) {
	c.logger.Info("waiting for instance to be in running state")

	last := domain.PowerStateUnknown
	backoff := retry.WithMaxDuration(c.config.StartTimeout, retry.NewConstant(c.config.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		state, err := c.instance.State(ctx)
		if err != nil {
			c.logger.Warn("failed to read instance state", "error", err)
			return retry.RetryableError(err)
		}
		last = state
		if state != domain.PowerStateRunning {
			c.logger.Info("instance not running yet", "state", state)
			return retry.RetryableError(errNotRunning)
		}
		return nil
	})
	return last, err
}

func (c *Controller) waitReady(ctx context.Context, result *Result) error {
	if c.prober == nil {
		c.logger.Warn("service URL not set, cannot check service readiness")
		return nil
	}

	backoff := retry.WithMaxDuration(c.config.ReadyTimeout, retry.NewConstant(c.config.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.prober.Probe(ctx); err != nil {
			c.logger.Info("service not ready yet", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("service is ready")
	result.Ready = true
	return nil
}

// Run nudges immediately and then every interval after the previous nudge
// finishes, until ctx ends.
func (c *Controller) Run(ctx context.Context, every time.Duration) {
	for {
		if result, err := c.Nudge(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("wake attempt failed", "error", err)
		} else {
			c.logger.Info("wake attempt finished",
				"queue_depth", result.QueueDepth,
				"final_state", result.FinalState,
				"ready", result.Ready,
				"timed_out", result.TimedOut)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.config.Clock.After(every):
		}
	}
}
