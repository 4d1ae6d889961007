package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/store"
)

// StaleSweeperConfig holds configuration for the stale record sweep
type StaleSweeperConfig struct {
	// StaleAfter defines how long a record can stay in flight before it is
	// considered abandoned
	StaleAfter time.Duration

	// CheckInterval defines how often to look for stale records.
	// If zero, defaults to 5 minutes
	CheckInterval time.Duration
}

// StaleSweeper fails records whose attempt was abandoned, for example by a
// node that lost power mid-job, so they can be re-submitted.
type StaleSweeper struct {
	records store.RecordStore
	config  StaleSweeperConfig
	clock   clock.Clock
	logger  *slog.Logger
}

// NewStaleSweeper creates a StaleSweeper. A nil clock uses wall time.
func NewStaleSweeper(
	records store.RecordStore,
	config StaleSweeperConfig,
	clk clock.Clock,
	logger *slog.Logger,
) (*StaleSweeper, error) {
	if records == nil {
		return nil, errors.New("record store cannot be nil")
	}
	if config.StaleAfter <= 0 {
		return nil, errors.New("stale age must be positive")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}

	return &StaleSweeper{
		records: records,
		config:  config,
		clock:   clk,
		logger:  logger.With("component", "stale_sweeper"),
	}, nil
}

// Run sweeps on every check interval until ctx is canceled.
func (s *StaleSweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.config.CheckInterval):
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to sweep stale records", "error", err)
			}
		}
	}
}

// SweepOnce fails every record that has been in flight longer than the
// stale age and returns how many it failed. A record that finished or was
// claimed by a new task after it was listed is skipped.
func (s *StaleSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.config.StaleAfter)

	stale, err := s.records.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Info("found stale records", "count", len(stale))

	failed := 0
	for _, record := range stale {
		detail := fmt.Sprintf("attempt abandoned: no progress since %s",
			record.UpdatedAt.UTC().Format(time.RFC3339))

		err := s.records.Abandon(ctx, record.Key, record.TaskID, detail)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			s.logger.Info("stale record moved on before sweep, skipping",
				"key", record.Key,
				"task_id", record.TaskID)
			continue
		}
		if err != nil {
			s.logger.Error("failed to fail stale record",
				"key", record.Key,
				"task_id", record.TaskID,
				"error", err)
			continue
		}

		s.logger.Info("failed stale record", "key", record.Key, "task_id", record.TaskID)
		failed++
	}

	return failed, nil
}
