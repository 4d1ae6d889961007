// Package boltdb implements store.RecordStore on a local bbolt file, for
// single-host deployments and development without cloud services.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/store"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// RecordStore keeps one JSON document per key in the "records" bucket.
// bbolt serializes writers, so every read-check-write runs in one
// transaction and the conditional operations are atomic.
type RecordStore struct {
	db    *bolt.DB
	clock clock.Clock
}

var _ store.RecordStore = (*RecordStore)(nil)

// Open opens (or creates) the bbolt file at path and ensures the bucket exists.
func Open(path string, clk clock.Clock) (*RecordStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create records bucket: %w", err)
	}

	if clk == nil {
		clk = clock.New()
	}
	return &RecordStore{db: db, clock: clk}, nil
}

// Close releases the file lock.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Get returns the record for key.
func (s *RecordStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	var record *domain.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		record, err = load(tx.Bucket(recordsBucket), key)
		return err
	})
	if err != nil {
		return nil, store.NewStoreError("get", key, err)
	}
	return record, nil
}

// Create inserts a new record unless the key exists.
func (s *RecordStore) Create(ctx context.Context, record *domain.Record) error {
	if err := record.Validate(); err != nil {
		return store.NewStoreError("create", record.Key, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if bucket.Get([]byte(record.Key)) != nil {
			return store.ErrDuplicate
		}

		stored := *record
		now := s.clock.Now().UTC()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		return save(bucket, &stored)
	})
	return store.NewStoreError("create", record.Key, err)
}

// Reopen flips a failed record back in flight.
func (s *RecordStore) Reopen(ctx context.Context, key, taskID string) error {
	return s.update("reopen", key, func(r *domain.Record) error {
		if r.State() != domain.RecordStateFailed {
			return store.ErrConflict
		}
		r.Processing = true
		r.TaskID = taskID
		r.ProcessingError = ""
		return nil
	})
}

// MarkProcessing marks the record in flight, creating it when absent.
func (s *RecordStore) MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		now := s.clock.Now().UTC()

		record, err := load(bucket, key)
		if err != nil {
			record = &domain.Record{Key: key, SourceLocator: sourceLocator, CreatedAt: now}
		}

		record.Processing = true
		if taskID != "" {
			record.TaskID = taskID
		}
		record.UpdatedAt = now
		return save(bucket, record)
	})
	return store.NewStoreError("mark_processing", key, err)
}

// SetDerivedHash stores the content fingerprint.
func (s *RecordStore) SetDerivedHash(ctx context.Context, key, hash string) error {
	return s.update("set_derived_hash", key, func(r *domain.Record) error {
		r.DerivedHash = hash
		return nil
	})
}

// Complete stores the summary and ends the attempt successfully.
func (s *RecordStore) Complete(ctx context.Context, key, summary string) error {
	return s.update("complete", key, func(r *domain.Record) error {
		r.Summary = summary
		r.ProcessingError = ""
		r.Processing = false
		return nil
	})
}

// Fail stores the failure detail and ends the attempt.
func (s *RecordStore) Fail(ctx context.Context, key, message string) error {
	return s.update("fail", key, func(r *domain.Record) error {
		r.Summary = ""
		r.ProcessingError = message
		r.Processing = false
		return nil
	})
}

// Abandon fails an attempt that is still in flight under taskID.
func (s *RecordStore) Abandon(ctx context.Context, key, taskID, message string) error {
	return s.update("abandon", key, func(r *domain.Record) error {
		if !r.Processing || r.TaskID != taskID {
			return store.ErrConflict
		}
		r.Summary = ""
		r.ProcessingError = message
		r.Processing = false
		return nil
	})
}

// ListStale walks the bucket for in-flight records updated before the cutoff.
func (s *RecordStore) ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error) {
	var records []*domain.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var record domain.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			if record.Processing && record.UpdatedAt.Before(before) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

func (s *RecordStore) update(operation, key string, mutate func(*domain.Record) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)

		record, err := load(bucket, key)
		if err != nil {
			return err
		}
		if err := mutate(record); err != nil {
			return err
		}
		record.UpdatedAt = s.clock.Now().UTC()
		return save(bucket, record)
	})
	return store.NewStoreError(operation, key, err)
}

func load(bucket *bolt.Bucket, key string) (*domain.Record, error) {
	data := bucket.Get([]byte(key))
	if data == nil {
		return nil, store.ErrNotFound
	}

	var record domain.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}

func save(bucket *bolt.Bucket, record *domain.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return bucket.Put([]byte(record.Key), data)
}
