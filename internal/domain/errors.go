package domain

import "errors"

// Error taxonomy shared across the pipeline.
var (
	// ErrMalformedInput is returned when a queue message body fails to parse
	// or lacks a required field. Such messages are dropped.
	ErrMalformedInput = errors.New("malformed input")

	// ErrCollaborator is returned when the extraction or summarization
	// collaborator fails. It becomes the record's processing error.
	ErrCollaborator = errors.New("collaborator failure")

	// ErrStoreWrite is returned when a single durable record write fails.
	// It never aborts the remaining pipeline steps.
	ErrStoreWrite = errors.New("durable store write failed")

	// ErrNodeUnavailable is returned when the compute node cannot be started
	// or never becomes healthy inside the bounded poll window.
	ErrNodeUnavailable = errors.New("compute node unavailable")

	// ErrEmptyKey is returned when a record or submission has no key.
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrEmptySourceLocator is returned when a submission has no source locator.
	ErrEmptySourceLocator = errors.New("source locator cannot be empty")
)
