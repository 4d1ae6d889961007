package store

import (
	"context"
	"time"

	"github.com/phrazzld/papersum/internal/domain"
)

// RecordStore persists one domain.Record per key.
type RecordStore interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*domain.Record, error)

	// Create inserts a new record. It returns ErrDuplicate if a record with
	// the same key already exists; the check and insert are atomic.
	Create(ctx context.Context, record *domain.Record) error

	// Reopen moves a record in terminal failure back in flight under a new
	// task ID and clears its error. It returns ErrConflict when the record is
	// in flight or succeeded, and ErrNotFound when it does not exist.
	Reopen(ctx context.Context, key, taskID string) error

	// MarkProcessing sets processing=true and the owning task ID. It creates
	// the record when a message arrives for a key the gateway never wrote.
	MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error

	// SetDerivedHash annotates the record with the content fingerprint.
	SetDerivedHash(ctx context.Context, key, hash string) error

	// Complete stores the summary and ends the attempt with success.
	Complete(ctx context.Context, key, summary string) error

	// Fail stores the failure detail, clears any earlier summary and ends
	// the attempt with failure.
	Fail(ctx context.Context, key, message string) error

	// Abandon fails the record only while it is still in flight under
	// taskID. It returns ErrConflict when the attempt already ended or the
	// record was claimed by another task, and ErrNotFound when it is gone.
	Abandon(ctx context.Context, key, taskID, message string) error

	// ListStale returns in-flight records last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error)
}
