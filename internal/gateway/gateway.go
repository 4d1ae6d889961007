// Package gateway implements the enqueue front door. It deduplicates
// submissions against the durable record store and writes at most one queue
// message per accepted submission.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/redact"
	"github.com/phrazzld/papersum/internal/store"
)

// Outcome is the branch the gateway took for a submission.
type Outcome string

// Submission outcomes
const (
	OutcomeEnqueued      Outcome = "enqueued"
	OutcomeCached        Outcome = "cached"
	OutcomeReEnqueued    Outcome = "re_enqueued"
	OutcomeAlreadyQueued Outcome = "already_queued"
)

// Message returns the human-readable description of the outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeEnqueued:
		return "New task enqueued"
	case OutcomeCached:
		return "Summary already available"
	case OutcomeReEnqueued:
		return "Re-enqueued for processing"
	case OutcomeAlreadyQueued:
		return "Task already queued"
	default:
		return string(o)
	}
}

var (
	// ErrInvalidSubmission indicates the submission failed validation.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrEnqueueFailed indicates the record was claimed but the queue write
	// failed. The record is failed so a later submission can retry.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// ErrRecordNotFound indicates no record exists for the key.
	ErrRecordNotFound = errors.New("record not found")
)

// ServiceError wraps unexpected errors from the gateway with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "get")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("gateway %s failed: %s: %v", e.Operation, e.Message, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err unless it is nil or already a gateway sentinel.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrRecordNotFound
	}
	if errors.Is(err, ErrInvalidSubmission) || errors.Is(err, ErrRecordNotFound) {
		return err
	}
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

// Submission is a request to summarize one document. Extra fields of the
// original request are kept verbatim on the record.
type Submission struct {
	Key           string `json:"key"            validate:"required,max=256"`
	SourceLocator string `json:"source_locator" validate:"required,url"`
}

// Result reports the branch taken for a submission. Record is set for
// cached results and for every branch where a record was read or written.
type Result struct {
	Outcome Outcome        `json:"status"`
	Message string         `json:"message"`
	TaskID  string         `json:"task_id,omitempty"`
	Record  *domain.Record `json:"record,omitempty"`
}

// Service accepts submissions and exposes record lookups.
type Service interface {
	// Submit applies the dedup branch table for the submission. raw is the
	// original request body stored on new records; nil stores the
	// submission itself.
	Submit(ctx context.Context, submission Submission, raw json.RawMessage) (*Result, error)

	// Get returns the record for key.
	Get(ctx context.Context, key string) (*domain.Record, error)
}

type gatewayService struct {
	records  store.RecordStore
	queue    queue.Queue
	clock    clock.Clock
	validate *validator.Validate
	newID    func() string
	logger   *slog.Logger
}

// NewService creates the gateway service.
func NewService(records store.RecordStore, q queue.Queue, clk clock.Clock, logger *slog.Logger) (Service, error) {
	if records == nil {
		return nil, errors.New("record store cannot be nil")
	}
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if clk == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &gatewayService{
		records:  records,
		queue:    q,
		clock:    clk,
		validate: validator.New(),
		newID:    uuid.NewString,
		logger:   logger.With("component", "enqueue_gateway"),
	}, nil
}

// Submit implements Service.
func (s *gatewayService) Submit(
	ctx context.Context,
	submission Submission,
	raw json.RawMessage,
) (*Result, error) {
	submission.Key = strings.TrimSpace(submission.Key)
	submission.SourceLocator = strings.TrimSpace(submission.SourceLocator)

	if err := s.validate.Struct(submission); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	log := s.logger.With("key", submission.Key)

	record, err := s.records.Get(ctx, submission.Key)
	if errors.Is(err, store.ErrNotFound) {
		return s.enqueueNew(ctx, submission, raw, log)
	}
	if err != nil {
		return nil, NewServiceError("submit", "failed to read record", err)
	}

	switch record.State() {
	case domain.RecordStateSucceeded:
		log.Info("found existing summary")
		return newResult(OutcomeCached, record.TaskID, record), nil

	case domain.RecordStateFailed:
		log.Info("re-enqueueing after failure", "processing_error", record.ProcessingError)
		return s.reEnqueue(ctx, submission, log)

	default:
		log.Info("task already queued", "task_id", record.TaskID)
		return newResult(OutcomeAlreadyQueued, record.TaskID, record), nil
	}
}

func (s *gatewayService) enqueueNew(
	ctx context.Context,
	submission Submission,
	raw json.RawMessage,
	log *slog.Logger,
) (*Result, error) {
	if len(raw) == 0 {
		encoded, err := json.Marshal(submission)
		if err != nil {
			return nil, NewServiceError("submit", "failed to encode request", err)
		}
		raw = encoded
	}

	taskID := s.newID()
	record, err := domain.NewRecord(submission.Key, submission.SourceLocator, taskID, raw, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	if err := s.records.Create(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another submission created the record first.
			return s.lost(ctx, submission.Key, log)
		}
		return nil, NewServiceError("submit", "failed to create record", err)
	}

	if err := s.send(ctx, submission, taskID, log); err != nil {
		return nil, err
	}

	log.Info("new task enqueued", "task_id", taskID)
	return newResult(OutcomeEnqueued, taskID, record), nil
}

func (s *gatewayService) reEnqueue(ctx context.Context, submission Submission, log *slog.Logger) (*Result, error) {
	taskID := s.newID()

	if err := s.records.Reopen(ctx, submission.Key, taskID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.lost(ctx, submission.Key, log)
		}
		return nil, NewServiceError("submit", "failed to reopen record", err)
	}

	if err := s.send(ctx, submission, taskID, log); err != nil {
		return nil, err
	}

	log.Info("re-enqueued for processing", "task_id", taskID)

	record, err := s.records.Get(ctx, submission.Key)
	if err != nil {
		log.Warn("failed to read reopened record", "error", err)
		record = nil
	}
	return newResult(OutcomeReEnqueued, taskID, record), nil
}

// lost reports the record written by the submission that won a race.
func (s *gatewayService) lost(ctx context.Context, key string, log *slog.Logger) (*Result, error) {
	record, err := s.records.Get(ctx, key)
	if err != nil {
		return nil, NewServiceError("submit", "failed to read record after conflict", err)
	}
	log.Info("concurrent submission won", "task_id", record.TaskID)
	return newResult(OutcomeAlreadyQueued, record.TaskID, record), nil
}

// send writes the queue message for a claimed record. When the write fails
// the claim is released by failing the record.
func (s *gatewayService) send(ctx context.Context, submission Submission, taskID string, log *slog.Logger) error {
	body, err := domain.NewMessage(submission.Key, submission.SourceLocator, taskID, s.clock.Now()).Encode()
	if err == nil {
		err = s.queue.Send(ctx, body)
	}
	if err == nil {
		return nil
	}

	log.Error("failed to send queue message", "task_id", taskID, "error", err)

	detail := "enqueue failed: " + redact.Error(err)
	if ferr := s.records.Fail(context.WithoutCancel(ctx), submission.Key, detail); ferr != nil {
		log.Error("failed to release record after enqueue failure", "error", ferr)
	}
	return fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
}

// Get implements Service.
func (s *gatewayService) Get(ctx context.Context, key string) (*domain.Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, domain.ErrEmptyKey)
	}

	record, err := s.records.Get(ctx, key)
	if err != nil {
		return nil, NewServiceError("get", "failed to read record", err)
	}
	return record, nil
}

func newResult(outcome Outcome, taskID string, record *domain.Record) *Result {
	return &Result{
		Outcome: outcome,
		Message: outcome.Message(),
		TaskID:  taskID,
		Record:  record,
	}
}
