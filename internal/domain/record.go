package domain

import (
	"encoding/json"
	"time"
)

// RecordState classifies a record for the enqueue branch table.
type RecordState string

// Possible record states
const (
	RecordStateInFlight  RecordState = "in_flight"
	RecordStateSucceeded RecordState = "succeeded"
	RecordStateFailed    RecordState = "failed"
)

// Record is the durable per-key state of a work item. Exactly one record
// exists per key; it is created by the enqueue gateway and mutated by the
// task runner during an attempt.
//
// Processing=true means an attempt is believed to be in flight. It is an
// advisory flag, not a lock.
type Record struct {
	Key             string          `json:"key"`
	SourceLocator   string          `json:"source_locator"`
	TaskID          string          `json:"task_id"`
	Processing      bool            `json:"processing"`
	ProcessingError string          `json:"processing_error"`
	Summary         string          `json:"summary"`
	DerivedHash     string          `json:"derived_hash,omitempty"`
	ManualUpload    bool            `json:"manual_upload"`
	Request         json.RawMessage `json:"request,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewRecord creates the record written on first submission of a key.
// The record starts in flight and owned by taskID.
func NewRecord(key, sourceLocator, taskID string, request json.RawMessage, now time.Time) (*Record, error) {
	record := &Record{
		Key:           key,
		SourceLocator: sourceLocator,
		TaskID:        taskID,
		Processing:    true,
		Request:       request,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	if r.Key == "" {
		return ErrEmptyKey
	}
	if r.SourceLocator == "" {
		return ErrEmptySourceLocator
	}
	return nil
}

// State classifies the record. A record that is not processing and carries
// no error counts as succeeded.
func (r *Record) State() RecordState {
	switch {
	case r.Processing:
		return RecordStateInFlight
	case r.ProcessingError != "":
		return RecordStateFailed
	default:
		return RecordStateSucceeded
	}
}

// IsTerminal reports whether no attempt is believed in flight.
func (r *Record) IsTerminal() bool {
	return !r.Processing
}
