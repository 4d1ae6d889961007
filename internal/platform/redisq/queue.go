// Package redisq implements queue.Queue on Redis lists using the reliable
// queue pattern: a receive atomically moves each message onto a processing
// list, and a delete removes it from there.
//
// Redis has no visibility timeout. Messages left on the processing list by a
// node that died are returned to the main list by Reclaim, which the node
// calls on startup.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/papersum/internal/queue"
	"github.com/redis/go-redis/v9"
)

// Queue is a queue.Queue on the list at key and its processing companion.
type Queue struct {
	rdb        redis.Cmdable
	key        string
	processing string
}

var _ queue.Queue = (*Queue)(nil)

// New creates a Queue on the list named key.
func New(rdb redis.Cmdable, key string) *Queue {
	return &Queue{
		rdb:        rdb,
		key:        key,
		processing: key + ":processing",
	}
}

// NewClient builds a go-redis client for addr and verifies it with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Send pushes body onto the head of the list.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return queue.ErrEmptyBody
	}
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

// Receive blocks up to wait for the first message, then takes up to max-1
// more without blocking. The receipt of each delivery is its body.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Delivery, error) {
	max = queue.ClampBatch(max)

	var first string
	var err error
	if wait > 0 {
		first, err = q.rdb.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", wait).Result()
	} else {
		first, err = q.rdb.LMove(ctx, q.key, q.processing, "RIGHT", "LEFT").Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}

	deliveries := []queue.Delivery{{Body: []byte(first), Receipt: first}}
	for len(deliveries) < max {
		body, err := q.rdb.LMove(ctx, q.key, q.processing, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			// Already-moved messages are still returned; they sit on the
			// processing list until deleted or reclaimed.
			return deliveries, nil
		}
		deliveries = append(deliveries, queue.Delivery{Body: []byte(body), Receipt: body})
	}

	return deliveries, nil
}

// Delete removes one copy of the message from the processing list.
func (q *Queue) Delete(ctx context.Context, receipt string) error {
	removed, err := q.rdb.LRem(ctx, q.processing, 1, receipt).Result()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if removed == 0 {
		return queue.ErrUnknownReceipt
	}
	return nil
}

// Depth reports the main and processing list lengths.
func (q *Queue) Depth(ctx context.Context) (queue.Depth, error) {
	visible, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return queue.Depth{}, fmt.Errorf("failed to read queue length: %w", err)
	}
	inFlight, err := q.rdb.LLen(ctx, q.processing).Result()
	if err != nil {
		return queue.Depth{}, fmt.Errorf("failed to read processing length: %w", err)
	}
	return queue.Depth{Visible: visible, InFlight: inFlight}, nil
}

// Reclaim moves every message on the processing list back to the tail that
// Receive reads from, so it is delivered again. It returns the number moved.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to reclaim messages: %w", err)
		}
		moved++
	}
}
