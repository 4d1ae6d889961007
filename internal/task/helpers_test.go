package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

const testDocumentText = "Attention Is All You Need\nThe dominant sequence transduction models are based on complex recurrent networks."

// eventLog records the order in which collaborators are called.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (f *fakeExtractor) Extract(ctx context.Context, sourceLocator string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceLocator)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeSummarizer struct {
	mu      sync.Mutex
	summary string
	err     error
	calls   int
	// hook runs before the result is returned
	hook func(ctx context.Context)
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls++
	hook, summary, err := f.hook, f.summary, f.err
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	mu   sync.Mutex
	err  error
	puts []string
}

func (f *fakeArchiver) Put(ctx context.Context, sourceLocator, taskID, summary string, at time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.puts = append(f.puts, taskID)
	return "summaries/" + taskID + ".txt", nil
}

type countingTerminator struct {
	calls atomic.Int32
}

func (c *countingTerminator) Terminate(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func (c *countingTerminator) count() int {
	return int(c.calls.Load())
}

// faultyRecords wraps a RecordStore and fails selected writes.
type faultyRecords struct {
	store.RecordStore
	events       *eventLog
	failMark     bool
	failHash     bool
	failComplete bool
}

var errStoreDown = errors.New("store unavailable")

func (f *faultyRecords) MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error {
	f.events.add("mark_processing")
	if f.failMark {
		return errStoreDown
	}
	return f.RecordStore.MarkProcessing(ctx, key, sourceLocator, taskID)
}

func (f *faultyRecords) SetDerivedHash(ctx context.Context, key, hash string) error {
	f.events.add("set_derived_hash")
	if f.failHash {
		return errStoreDown
	}
	return f.RecordStore.SetDerivedHash(ctx, key, hash)
}

func (f *faultyRecords) Complete(ctx context.Context, key, summary string) error {
	f.events.add("complete")
	if f.failComplete {
		return errStoreDown
	}
	return f.RecordStore.Complete(ctx, key, summary)
}

func (f *faultyRecords) Fail(ctx context.Context, key, message string) error {
	f.events.add("fail")
	return f.RecordStore.Fail(ctx, key, message)
}

// recordingQueue logs acknowledgements into the shared event log.
type recordingQueue struct {
	queue.Queue
	events *eventLog
}

func (q *recordingQueue) Delete(ctx context.Context, receipt string) error {
	q.events.add("delete")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return q.Queue.Delete(ctx, receipt)
}

type harness struct {
	clock      *clock.Fake
	queue      *queue.MemoryQueue
	records    *store.MemoryRecordStore
	extractor  *fakeExtractor
	summarizer *fakeSummarizer
	archiver   *fakeArchiver
	terminator *countingTerminator
	logs       *logger.TestLogBuffer
	processor  *Processor
}

func newHarness(t *testing.T, customize ...func(*Dependencies)) *harness {
	t.Helper()

	clk := clock.NewFake(testStart)
	h := &harness{
		clock:      clk,
		queue:      queue.NewMemoryQueue(10*time.Minute, clk),
		records:    store.NewMemoryRecordStore(clk),
		extractor:  &fakeExtractor{text: testDocumentText},
		summarizer: &fakeSummarizer{summary: "A transformer summary."},
		archiver:   &fakeArchiver{},
		terminator: &countingTerminator{},
	}

	deps := Dependencies{
		Queue:      h.queue,
		Records:    h.records,
		Extractor:  h.extractor,
		Summarizer: h.summarizer,
		Archiver:   h.archiver,
		Terminator: h.terminator,
		Clock:      clk,
	}
	for _, fn := range customize {
		fn(&deps)
	}

	config := DefaultProcessorConfig()
	config.WaitTime = 0

	log, buf := logger.NewTestLogger()
	h.logs = buf

	processor, err := NewProcessor(deps, config, log)
	require.NoError(t, err)
	h.processor = processor

	return h
}

// submit writes the record and message the enqueue gateway would produce.
func (h *harness) submit(t *testing.T, key string) string {
	t.Helper()
	ctx := context.Background()

	taskID := "task-" + key
	source := "https://arxiv.org/pdf/" + key + ".pdf"

	request, err := json.Marshal(map[string]string{"key": key, "source_locator": source})
	require.NoError(t, err)

	record, err := domain.NewRecord(key, source, taskID, request, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.records.Create(ctx, record))

	h.sendMessage(t, domain.NewMessage(key, source, taskID, h.clock.Now()))
	return taskID
}

func (h *harness) sendMessage(t *testing.T, msg domain.Message) {
	t.Helper()
	body, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, h.queue.Send(context.Background(), body))
}

func (h *harness) record(t *testing.T, key string) *domain.Record {
	t.Helper()
	record, err := h.records.Get(context.Background(), key)
	require.NoError(t, err)
	return record
}

func (h *harness) depth(t *testing.T) queue.Depth {
	t.Helper()
	depth, err := h.queue.Depth(context.Background())
	require.NoError(t, err)
	return depth
}

func (h *harness) poll(t *testing.T) bool {
	t.Helper()
	received, err := h.processor.PollOnce(context.Background())
	require.NoError(t, err)
	return received
}
