// Package storetest holds the behavioural checks every store.RecordStore
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store and a function that moves the store's
// notion of "now" forward.
type Factory func(t *testing.T) (s store.RecordStore, advance func(time.Duration))

// RunRecordStoreTests runs the shared contract against the store built by newStore.
func RunRecordStoreTests(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	newRecord := func(t *testing.T, key string) *domain.Record {
		t.Helper()
		record, err := domain.NewRecord(key, "https://example.com/"+key+".pdf", "task-1",
			json.RawMessage(`{"key":"`+key+`"}`), time.Now())
		require.NoError(t, err)
		return record
	}

	t.Run("get missing returns not found", func(t *testing.T) {
		s, _ := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Key)
		assert.Equal(t, "https://example.com/a.pdf", got.SourceLocator)
		assert.Equal(t, "task-1", got.TaskID)
		assert.True(t, got.Processing)
		assert.Empty(t, got.ProcessingError)
		assert.JSONEq(t, `{"key":"a"}`, string(got.Request))
		assert.Equal(t, domain.RecordStateInFlight, got.State())
	})

	t.Run("create duplicate", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		err := s.Create(ctx, newRecord(t, "a"))
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("complete clears processing and error", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Complete(ctx, "a", "the summary"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, got.Processing)
		assert.Equal(t, "the summary", got.Summary)
		assert.Empty(t, got.ProcessingError)
		assert.Equal(t, domain.RecordStateSucceeded, got.State())
	})

	t.Run("fail records error", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Fail(ctx, "a", "boom"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, got.Processing)
		assert.Equal(t, "boom", got.ProcessingError)
		assert.Equal(t, domain.RecordStateFailed, got.State())
	})

	t.Run("fail after a redelivered success clears the summary", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Complete(ctx, "a", "the summary"))
		require.NoError(t, s.MarkProcessing(ctx, "a", "https://example.com/a.pdf", "task-1"))
		require.NoError(t, s.Fail(ctx, "a", "gpu oom"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, got.Summary)
		assert.Equal(t, "gpu oom", got.ProcessingError)
		assert.Equal(t, domain.RecordStateFailed, got.State())
	})

	t.Run("abandon fails an attempt still owned by the task", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Abandon(ctx, "a", "task-1", "attempt abandoned"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, got.Processing)
		assert.Empty(t, got.Summary)
		assert.Equal(t, "attempt abandoned", got.ProcessingError)
	})

	t.Run("abandon leaves finished or reclaimed records alone", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "done")))
		require.NoError(t, s.Complete(ctx, "done", "the summary"))
		assert.ErrorIs(t, s.Abandon(ctx, "done", "task-1", "attempt abandoned"), store.ErrConflict)

		got, err := s.Get(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, "the summary", got.Summary)
		assert.Empty(t, got.ProcessingError)

		require.NoError(t, s.Create(ctx, newRecord(t, "claimed")))
		require.NoError(t, s.MarkProcessing(ctx, "claimed", "https://example.com/claimed.pdf", "task-2"))
		assert.ErrorIs(t, s.Abandon(ctx, "claimed", "task-1", "attempt abandoned"), store.ErrConflict)

		got, err = s.Get(ctx, "claimed")
		require.NoError(t, err)
		assert.True(t, got.Processing)

		assert.ErrorIs(t, s.Abandon(ctx, "missing", "task-1", "x"), store.ErrNotFound)
	})

	t.Run("writes to missing record return not found", func(t *testing.T) {
		s, _ := newStore(t)
		assert.ErrorIs(t, s.Complete(ctx, "missing", "x"), store.ErrNotFound)
		assert.ErrorIs(t, s.Fail(ctx, "missing", "x"), store.ErrNotFound)
		assert.ErrorIs(t, s.SetDerivedHash(ctx, "missing", "x"), store.ErrNotFound)
		assert.ErrorIs(t, s.Reopen(ctx, "missing", "t"), store.ErrNotFound)
	})

	t.Run("reopen failed record", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Fail(ctx, "a", "boom"))
		require.NoError(t, s.Reopen(ctx, "a", "task-2"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, got.Processing)
		assert.Equal(t, "task-2", got.TaskID)
		assert.Empty(t, got.ProcessingError)
	})

	t.Run("reopen rejects in flight and succeeded records", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "inflight")))
		assert.ErrorIs(t, s.Reopen(ctx, "inflight", "task-2"), store.ErrConflict)

		require.NoError(t, s.Create(ctx, newRecord(t, "done")))
		require.NoError(t, s.Complete(ctx, "done", "summary"))
		assert.ErrorIs(t, s.Reopen(ctx, "done", "task-2"), store.ErrConflict)

		got, err := s.Get(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, "task-1", got.TaskID)
		assert.False(t, got.Processing)
	})

	t.Run("mark processing updates existing record", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.Fail(ctx, "a", "boom"))
		require.NoError(t, s.MarkProcessing(ctx, "a", "https://example.com/a.pdf", "task-9"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, got.Processing)
		assert.Equal(t, "task-9", got.TaskID)
	})

	t.Run("mark processing creates unknown record", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.MarkProcessing(ctx, "orphan", "https://example.com/o.pdf", "task-3"))

		got, err := s.Get(ctx, "orphan")
		require.NoError(t, err)
		assert.True(t, got.Processing)
		assert.Equal(t, "task-3", got.TaskID)
		assert.Equal(t, "https://example.com/o.pdf", got.SourceLocator)
	})

	t.Run("set derived hash", func(t *testing.T) {
		s, _ := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "a")))
		require.NoError(t, s.SetDerivedHash(ctx, "a", "abc"))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "abc", got.DerivedHash)
		assert.True(t, got.Processing)
	})

	t.Run("list stale returns only old in flight records", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Create(ctx, newRecord(t, "old")))
		require.NoError(t, s.Create(ctx, newRecord(t, "old-done")))
		require.NoError(t, s.Complete(ctx, "old-done", "summary"))

		advance(2 * time.Hour)
		require.NoError(t, s.Create(ctx, newRecord(t, "fresh")))

		fresh, err := s.Get(ctx, "fresh")
		require.NoError(t, err)

		stale, err := s.ListStale(ctx, fresh.UpdatedAt.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "old", stale[0].Key)
	})
}
