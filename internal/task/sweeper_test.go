package task

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStaleSweeper_Validation(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(testStart)
	log, _ := logger.NewTestLogger()

	_, err := NewStaleSweeper(nil, StaleSweeperConfig{StaleAfter: time.Hour}, clk, log)
	assert.Error(t, err)

	_, err = NewStaleSweeper(store.NewMemoryRecordStore(clk), StaleSweeperConfig{}, clk, log)
	assert.Error(t, err)

	_, err = NewStaleSweeper(store.NewMemoryRecordStore(clk), StaleSweeperConfig{StaleAfter: time.Hour}, clk, nil)
	assert.Error(t, err)

	sweeper, err := NewStaleSweeper(store.NewMemoryRecordStore(clk), StaleSweeperConfig{StaleAfter: time.Hour}, clk, log)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, sweeper.config.CheckInterval)

	sweeper, err = NewStaleSweeper(store.NewMemoryRecordStore(clk), StaleSweeperConfig{StaleAfter: time.Hour}, nil, log)
	require.NoError(t, err)
	assert.NotNil(t, sweeper.clock, "nil clock falls back to wall time")
}

// completingRecords finishes a record between the sweep's list and write,
// the way a node completing its job concurrently would.
type completingRecords struct {
	store.RecordStore
	summary string
}

func (c *completingRecords) ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error) {
	stale, err := c.RecordStore.ListStale(ctx, before)
	if err != nil {
		return nil, err
	}
	for _, record := range stale {
		if err := c.RecordStore.Complete(ctx, record.Key, c.summary); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func TestStaleSweeper_SkipsRecordCompletedAfterListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFake(testStart)
	memory := store.NewMemoryRecordStore(clk)
	log, buf := logger.NewTestLogger()

	record, err := domain.NewRecord("late", "https://arxiv.org/pdf/late.pdf", "task-late", nil, clk.Now())
	require.NoError(t, err)
	require.NoError(t, memory.Create(ctx, record))
	clk.Advance(2 * time.Hour)

	records := &completingRecords{RecordStore: memory, summary: "A late summary."}
	sweeper, err := NewStaleSweeper(records, StaleSweeperConfig{StaleAfter: time.Hour}, clk, log)
	require.NoError(t, err)

	failed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)

	got, err := memory.Get(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStateSucceeded, got.State())
	assert.Equal(t, "A late summary.", got.Summary)
	assert.Empty(t, got.ProcessingError)
	assert.Len(t, buf.EntriesWithMessage("stale record moved on before sweep, skipping"), 1)
}

func TestStaleSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFake(testStart)
	records := store.NewMemoryRecordStore(clk)
	log, _ := logger.NewTestLogger()

	create := func(key string) {
		record, err := domain.NewRecord(key, "https://arxiv.org/pdf/"+key+".pdf", "task-"+key, nil, clk.Now())
		require.NoError(t, err)
		require.NoError(t, records.Create(ctx, record))
	}

	create("abandoned")
	create("finished")
	require.NoError(t, records.Complete(ctx, "finished", "done"))

	clk.Advance(90 * time.Minute)
	create("recent")

	sweeper, err := NewStaleSweeper(records, StaleSweeperConfig{StaleAfter: time.Hour}, clk, log)
	require.NoError(t, err)

	failed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	abandoned, err := records.Get(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStateFailed, abandoned.State())
	assert.True(t, strings.HasPrefix(abandoned.ProcessingError, "attempt abandoned:"))

	recent, err := records.Get(ctx, "recent")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStateInFlight, recent.State())

	finished, err := records.Get(ctx, "finished")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStateSucceeded, finished.State())

	failed, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed, "a failed record is no longer in flight")
}

func TestStaleSweeper_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewFake(testStart)
	records := store.NewMemoryRecordStore(clk)
	log, _ := logger.NewTestLogger()

	record, err := domain.NewRecord("k", "https://arxiv.org/pdf/k.pdf", "task-k", nil, clk.Now())
	require.NoError(t, err)
	require.NoError(t, records.Create(ctx, record))
	clk.Advance(2 * time.Hour)

	sweeper, err := NewStaleSweeper(records, StaleSweeperConfig{
		StaleAfter:    time.Hour,
		CheckInterval: time.Minute,
	}, clk, log)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// Advance once the loop is waiting on the clock.
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool {
		got, err := records.Get(ctx, "k")
		return err == nil && got.State() == domain.RecordStateFailed
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
