package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by Create when a record with the same key
	// already exists.
	ErrDuplicate = errors.New("record already exists")

	// ErrConflict is returned by conditional updates whose precondition no
	// longer holds, e.g. reopening a record that is not in terminal failure.
	ErrConflict = errors.New("record state conflict")

	// ErrInvalidEntity is returned when a record fails validation before
	// being stored.
	ErrInvalidEntity = errors.New("invalid record")
)

// IsNotFoundError checks if the error is a "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError carries the operation and key of a failed store call.
type StoreError struct {
	Operation string // The operation that failed (e.g., "create", "complete")
	Key       string // The record key
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s record %q: %v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err with the operation and key. It returns nil for a nil error.
func NewStoreError(operation, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}
