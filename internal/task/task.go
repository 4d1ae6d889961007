package task

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySummary is returned when the summarizer produces no text.
var ErrEmptySummary = errors.New("summarizer returned an empty summary")

// Extractor retrieves the document behind a source locator and returns its
// plain text.
type Extractor interface {
	Extract(ctx context.Context, sourceLocator string) (string, error)
}

// Summarizer turns extracted text into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Archiver stores a copy of a finished summary outside the record store.
// It returns the location the summary was written to.
type Archiver interface {
	Put(ctx context.Context, sourceLocator, taskID, summary string, at time.Time) (string, error)
}

// Terminator powers the compute node off.
type Terminator interface {
	Terminate(ctx context.Context) error
}

// TerminatorFunc adapts a function to the Terminator interface.
type TerminatorFunc func(ctx context.Context) error

// Terminate calls f(ctx).
func (f TerminatorFunc) Terminate(ctx context.Context) error {
	return f(ctx)
}
