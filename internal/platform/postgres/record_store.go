package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/phrazzld/papersum/internal/store"
)

const recordColumns = `key, source_locator, task_id, processing, processing_error, summary,
	derived_hash, manual_upload, request, created_at, updated_at`

// RecordStore implements store.RecordStore on a PostgreSQL "records" table.
type RecordStore struct {
	db    store.DBTX
	clock clock.Clock
}

var _ store.RecordStore = (*RecordStore)(nil)

// NewRecordStore creates a RecordStore. A nil clock uses wall time.
func NewRecordStore(db store.DBTX, clk clock.Clock) *RecordStore {
	if clk == nil {
		clk = clock.New()
	}
	return &RecordStore{db: db, clock: clk}
}

func (s *RecordStore) now() time.Time {
	return s.clock.Now().UTC()
}

// Get retrieves a record by key.
func (s *RecordStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE key = $1`, key)

	record, err := scanRecord(row)
	if err != nil {
		return nil, store.NewStoreError("get", key, MapError(err))
	}
	return record, nil
}

// Create inserts a record. The primary key makes a concurrent duplicate fail
// with ErrDuplicate.
func (s *RecordStore) Create(ctx context.Context, record *domain.Record) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return store.NewStoreError("create", record.Key, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
	}

	now := s.now()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.Key,
		record.SourceLocator,
		record.TaskID,
		record.Processing,
		record.ProcessingError,
		record.Summary,
		record.DerivedHash,
		record.ManualUpload,
		nullableJSON(record.Request),
		createdAt,
		now,
	)
	if err != nil {
		mapped := MapError(err)
		if !errors.Is(mapped, store.ErrDuplicate) {
			log.Error("failed to create record", "key", record.Key, "error", err)
		}
		return store.NewStoreError("create", record.Key, mapped)
	}

	return nil
}

// Reopen conditionally flips a failed record back in flight.
func (s *RecordStore) Reopen(ctx context.Context, key, taskID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET processing = TRUE, task_id = $2, processing_error = '', updated_at = $3
		WHERE key = $1 AND processing = FALSE AND processing_error <> ''`,
		key, taskID, s.now())
	if err != nil {
		return store.NewStoreError("reopen", key, MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return store.NewStoreError("reopen", key, err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: distinguish a missing record from a failed precondition.
	exists, err := s.exists(ctx, key)
	if err != nil {
		return store.NewStoreError("reopen", key, err)
	}
	if !exists {
		return store.NewStoreError("reopen", key, store.ErrNotFound)
	}
	return store.NewStoreError("reopen", key, store.ErrConflict)
}

// MarkProcessing upserts the in-flight flag and owning task.
func (s *RecordStore) MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, source_locator, task_id, processing, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET processing = TRUE,
		    task_id = COALESCE(NULLIF(EXCLUDED.task_id, ''), records.task_id),
		    updated_at = EXCLUDED.updated_at`,
		key, sourceLocator, taskID, now)
	if err != nil {
		return store.NewStoreError("mark_processing", key, MapError(err))
	}
	return nil
}

// SetDerivedHash stores the content fingerprint.
func (s *RecordStore) SetDerivedHash(ctx context.Context, key, hash string) error {
	return s.update(ctx, "set_derived_hash", key,
		`UPDATE records SET derived_hash = $2, updated_at = $3 WHERE key = $1`, hash)
}

// Complete stores the summary and ends the attempt successfully.
func (s *RecordStore) Complete(ctx context.Context, key, summary string) error {
	return s.update(ctx, "complete", key, `
		UPDATE records
		SET summary = $2, processing_error = '', processing = FALSE, updated_at = $3
		WHERE key = $1`, summary)
}

// Fail stores the failure detail and ends the attempt.
func (s *RecordStore) Fail(ctx context.Context, key, message string) error {
	return s.update(ctx, "fail", key, `
		UPDATE records
		SET summary = '', processing_error = $2, processing = FALSE, updated_at = $3
		WHERE key = $1`, message)
}

// Abandon fails the record only while it is in flight under taskID.
func (s *RecordStore) Abandon(ctx context.Context, key, taskID, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET summary = '', processing_error = $3, processing = FALSE, updated_at = $4
		WHERE key = $1 AND processing = TRUE AND task_id = $2`,
		key, taskID, message, s.now())
	if err != nil {
		return store.NewStoreError("abandon", key, MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return store.NewStoreError("abandon", key, err)
	}
	if n > 0 {
		return nil
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return store.NewStoreError("abandon", key, err)
	}
	if !exists {
		return store.NewStoreError("abandon", key, store.ErrNotFound)
	}
	return store.NewStoreError("abandon", key, store.ErrConflict)
}

// ListStale returns in-flight records last updated before the cutoff, oldest first.
func (s *RecordStore) ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE processing AND updated_at < $1
		ORDER BY updated_at ASC`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale records: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale records: %w", err)
	}
	return records, nil
}

// update runs a single-key UPDATE whose parameters are ($1 key, $2 value, $3 updated_at).
func (s *RecordStore) update(ctx context.Context, operation, key, query, value string) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, key, value, s.now())
	if err != nil {
		log.Error("failed to update record", "operation", operation, "key", key, "error", err)
		return store.NewStoreError(operation, key, MapError(err))
	}

	n, err := rowsAffected(result)
	if err != nil {
		return store.NewStoreError(operation, key, err)
	}
	if n == 0 {
		return store.NewStoreError(operation, key, store.ErrNotFound)
	}
	return nil
}

func (s *RecordStore) exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		record  domain.Record
		request []byte
	)
	err := row.Scan(
		&record.Key,
		&record.SourceLocator,
		&record.TaskID,
		&record.Processing,
		&record.ProcessingError,
		&record.Summary,
		&record.DerivedHash,
		&record.ManualUpload,
		&request,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(request) > 0 {
		record.Request = json.RawMessage(request)
	}
	return &record, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// compile-time check that *sql.DB satisfies the store's DBTX.
var _ store.DBTX = (*sql.DB)(nil)
