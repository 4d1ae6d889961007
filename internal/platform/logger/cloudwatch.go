package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
)

// PutLogEvents limits.
const (
	maxBatchEvents = 10000
	maxBatchBytes  = 1048576
	eventOverhead  = 26
)

// CloudWatchWriter is an io.Writer that buffers one log event per Write and
// ships batches to a CloudWatch Logs stream. Pair it with NewJSONHandler to
// get a remote slog sink.
type CloudWatchWriter struct {
	client cloudwatchlogsiface.CloudWatchLogsAPI
	group  string
	stream string

	mu      sync.Mutex
	pending []*cloudwatchlogs.InputLogEvent

	// flushMu serializes PutLogEvents calls.
	flushMu sync.Mutex

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewCloudWatchWriter ensures the log group and stream exist and starts a
// background flush every interval.
func NewCloudWatchWriter(
	ctx context.Context,
	client cloudwatchlogsiface.CloudWatchLogsAPI,
	group, stream string,
	interval time.Duration,
) (*CloudWatchWriter, error) {
	if group == "" || stream == "" {
		return nil, errors.New("cloudwatch log group and stream are required")
	}

	_, err := client.CreateLogGroupWithContext(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(group),
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create log group %s: %w", group, err)
	}

	_, err = client.CreateLogStreamWithContext(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create log stream %s: %w", stream, err)
	}

	w := &CloudWatchWriter{
		client: client,
		group:  group,
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if interval > 0 {
		go w.loop(interval)
	} else {
		close(w.done)
	}

	return w, nil
}

// Write buffers p as a single log event. It never blocks on the network.
func (w *CloudWatchWriter) Write(p []byte) (int, error) {
	message := string(bytes.TrimRight(p, "\n"))
	if message == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.pending = append(w.pending, &cloudwatchlogs.InputLogEvent{
		Message:   aws.String(message),
		Timestamp: aws.Int64(time.Now().UnixMilli()),
	})
	w.mu.Unlock()

	return len(p), nil
}

// Flush ships all buffered events.
func (w *CloudWatchWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	// PutLogEvents requires chronological order within a batch.
	sort.SliceStable(events, func(i, j int) bool {
		return aws.Int64Value(events[i].Timestamp) < aws.Int64Value(events[j].Timestamp)
	})

	for _, batch := range splitBatches(events) {
		_, err := w.client.PutLogEventsWithContext(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(w.group),
			LogStreamName: aws.String(w.stream),
			LogEvents:     batch,
		})
		if err != nil {
			return fmt.Errorf("failed to put log events: %w", err)
		}
	}

	return nil
}

// Close stops the background flush and ships what is left.
func (w *CloudWatchWriter) Close(ctx context.Context) error {
	w.once.Do(func() { close(w.stop) })
	<-w.done
	return w.Flush(ctx)
}

func (w *CloudWatchWriter) loop(interval time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// A failed flush drops the batch; the local sink still has the lines.
			_ = w.Flush(context.Background())
		}
	}
}

func splitBatches(events []*cloudwatchlogs.InputLogEvent) [][]*cloudwatchlogs.InputLogEvent {
	var (
		batches [][]*cloudwatchlogs.InputLogEvent
		current []*cloudwatchlogs.InputLogEvent
		size    int
	)

	for _, event := range events {
		eventSize := len(aws.StringValue(event.Message)) + eventOverhead
		if len(current) > 0 && (len(current) >= maxBatchEvents || size+eventSize > maxBatchBytes) {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, event)
		size += eventSize
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func isAlreadyExists(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == cloudwatchlogs.ErrCodeResourceAlreadyExistsException
}
