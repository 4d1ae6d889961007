package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
)

// MemoryRecordStore is a RecordStore held in process memory.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
	clock   clock.Clock
}

var _ RecordStore = (*MemoryRecordStore)(nil)

// NewMemoryRecordStore creates an empty store. A nil clock uses wall time.
func NewMemoryRecordStore(clk clock.Clock) *MemoryRecordStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryRecordStore{
		records: make(map[string]*domain.Record),
		clock:   clk,
	}
}

// Get returns a copy of the record for key.
func (s *MemoryRecordStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, NewStoreError("get", key, ErrNotFound)
	}
	return cloneRecord(record), nil
}

// Create inserts the record unless the key already exists.
func (s *MemoryRecordStore) Create(ctx context.Context, record *domain.Record) error {
	if err := record.Validate(); err != nil {
		return NewStoreError("create", record.Key, ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Key]; exists {
		return NewStoreError("create", record.Key, ErrDuplicate)
	}

	stored := cloneRecord(record)
	now := s.clock.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[record.Key] = stored
	return nil
}

// Reopen flips a failed record back in flight.
func (s *MemoryRecordStore) Reopen(ctx context.Context, key, taskID string) error {
	return s.update("reopen", key, func(r *domain.Record) error {
		if r.State() != domain.RecordStateFailed {
			return ErrConflict
		}
		r.Processing = true
		r.TaskID = taskID
		r.ProcessingError = ""
		return nil
	})
}

// MarkProcessing marks the record in flight, creating it if needed.
func (s *MemoryRecordStore) MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	record, ok := s.records[key]
	if !ok {
		record = &domain.Record{
			Key:           key,
			SourceLocator: sourceLocator,
			CreatedAt:     now,
		}
		s.records[key] = record
	}

	record.Processing = true
	if taskID != "" {
		record.TaskID = taskID
	}
	record.UpdatedAt = now
	return nil
}

// SetDerivedHash stores the derived hash.
func (s *MemoryRecordStore) SetDerivedHash(ctx context.Context, key, hash string) error {
	return s.update("set_derived_hash", key, func(r *domain.Record) error {
		r.DerivedHash = hash
		return nil
	})
}

// Complete stores the summary and clears the in-flight flag.
func (s *MemoryRecordStore) Complete(ctx context.Context, key, summary string) error {
	return s.update("complete", key, func(r *domain.Record) error {
		r.Summary = summary
		r.ProcessingError = ""
		r.Processing = false
		return nil
	})
}

// Fail stores the failure detail and clears the in-flight flag.
func (s *MemoryRecordStore) Fail(ctx context.Context, key, message string) error {
	return s.update("fail", key, func(r *domain.Record) error {
		r.Summary = ""
		r.ProcessingError = message
		r.Processing = false
		return nil
	})
}

// Abandon fails an attempt that is still in flight under taskID.
func (s *MemoryRecordStore) Abandon(ctx context.Context, key, taskID, message string) error {
	return s.update("abandon", key, func(r *domain.Record) error {
		if !r.Processing || r.TaskID != taskID {
			return ErrConflict
		}
		r.Summary = ""
		r.ProcessingError = message
		r.Processing = false
		return nil
	})
}

// ListStale returns in-flight records not updated since before.
func (s *MemoryRecordStore) ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*domain.Record
	for _, record := range s.records {
		if record.Processing && record.UpdatedAt.Before(before) {
			stale = append(stale, cloneRecord(record))
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

func (s *MemoryRecordStore) update(operation, key string, mutate func(*domain.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return NewStoreError(operation, key, ErrNotFound)
	}

	// Mutate a copy so a rejected precondition leaves the record untouched.
	updated := cloneRecord(record)
	if err := mutate(updated); err != nil {
		return NewStoreError(operation, key, err)
	}
	updated.UpdatedAt = s.clock.Now().UTC()
	s.records[key] = updated
	return nil
}

func cloneRecord(r *domain.Record) *domain.Record {
	clone := *r
	if r.Request != nil {
		clone.Request = append([]byte(nil), r.Request...)
	}
	return &clone
}
