// Package queue defines the durable work queue contract used by the gateway,
// the wake controller and the node's consumer loop, plus an in-memory queue
// with visibility timeouts for local runs and tests.
//
// Delivery is at-least-once: a received message stays invisible for the
// visibility timeout and reappears unless it is deleted with its receipt.
package queue

import (
	"context"
	"errors"
	"time"
)

// MaxBatchSize is the largest batch a single Receive may return.
const MaxBatchSize = 10

var (
	// ErrUnknownReceipt is returned when deleting with a receipt that does not
	// match an in-flight message.
	ErrUnknownReceipt = errors.New("unknown receipt")

	// ErrEmptyBody is returned when sending an empty message body.
	ErrEmptyBody = errors.New("message body cannot be empty")
)

// Delivery is one received message and the opaque token that acknowledges it.
type Delivery struct {
	Body    []byte
	Receipt string
}

// Depth is an approximate queue depth sample.
type Depth struct {
	Visible  int64 `json:"visible"`
	InFlight int64 `json:"in_flight"`
}

// Total returns visible plus in-flight messages.
func (d Depth) Total() int64 {
	return d.Visible + d.InFlight
}

// Queue is a durable at-least-once message queue.
type Queue interface {
	// Send enqueues one message body.
	Send(ctx context.Context, body []byte) error

	// Receive long-polls for up to max messages, waiting at most wait when the
	// queue is empty. An empty slice with a nil error means nothing arrived.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)

	// Delete acknowledges a received message so it is not redelivered.
	Delete(ctx context.Context, receipt string) error

	// Depth samples the approximate number of visible and in-flight messages.
	Depth(ctx context.Context) (Depth, error)
}

// ClampBatch bounds a requested batch size to [1, MaxBatchSize].
func ClampBatch(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
