package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/papersum/internal/clock"
)

type memoryMessage struct {
	body     []byte
	receipt  string
	deadline time.Time
	attempts int
}

// MemoryQueue is an in-process Queue. Received messages move to an
// in-flight set until they are deleted or their visibility deadline passes.
type MemoryQueue struct {
	mu sync.Mutex

	pending  []*memoryMessage
	inFlight map[string]*memoryMessage // receipt → message

	// signal is closed and replaced on every Send to wake long-pollers.
	signal chan struct{}

	visibility time.Duration
	clock      clock.Clock
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue. A nil clock uses wall time.
func NewMemoryQueue(visibility time.Duration, clk clock.Clock) *MemoryQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryQueue{
		inFlight:   make(map[string]*memoryMessage),
		signal:     make(chan struct{}),
		visibility: visibility,
		clock:      clk,
	}
}

// Send appends a message to the tail of the queue.
func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyBody
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, &memoryMessage{body: append([]byte(nil), body...)})
	close(q.signal)
	q.signal = make(chan struct{})
	return nil
}

// Receive returns up to max visible messages, waiting for one to arrive when
// the queue is empty.
func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	max = ClampBatch(max)

	var timeout <-chan time.Time
	for {
		deliveries, signal := q.take(max)
		if len(deliveries) > 0 || wait <= 0 {
			return deliveries, nil
		}

		if timeout == nil {
			timeout = q.clock.After(wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			deliveries, _ := q.take(max)
			return deliveries, nil
		case <-signal:
		}
	}
}

func (q *MemoryQueue) take(max int) ([]Delivery, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	n := min(max, len(q.pending))
	deliveries := make([]Delivery, 0, n)
	deadline := q.clock.Now().Add(q.visibility)
	for _, msg := range q.pending[:n] {
		msg.receipt = uuid.NewString()
		msg.deadline = deadline
		msg.attempts++
		q.inFlight[msg.receipt] = msg
		deliveries = append(deliveries, Delivery{
			Body:    append([]byte(nil), msg.body...),
			Receipt: msg.receipt,
		})
	}
	q.pending = q.pending[n:]

	return deliveries, q.signal
}

// Delete removes an in-flight message.
func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	if _, ok := q.inFlight[receipt]; !ok {
		return ErrUnknownReceipt
	}
	delete(q.inFlight, receipt)
	return nil
}

// Depth reports pending and in-flight counts.
func (q *MemoryQueue) Depth(ctx context.Context) (Depth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	return Depth{
		Visible:  int64(len(q.pending)),
		InFlight: int64(len(q.inFlight)),
	}, nil
}

// requeueExpiredLocked returns messages whose visibility deadline passed to
// the pending list. Their old receipts become invalid.
func (q *MemoryQueue) requeueExpiredLocked() {
	now := q.clock.Now()
	for receipt, msg := range q.inFlight {
		if now.Before(msg.deadline) {
			continue
		}
		delete(q.inFlight, receipt)
		msg.receipt = ""
		q.pending = append(q.pending, msg)
	}
}
