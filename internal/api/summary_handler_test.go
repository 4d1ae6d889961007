package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/gateway"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendFailQueue struct {
	queue.Queue
}

func (sendFailQueue) Send(context.Context, []byte) error {
	return errors.New("queue does not exist")
}

type gatewayFixture struct {
	records *store.MemoryRecordStore
	queue   *queue.MemoryQueue
	server  http.Handler
}

func newGatewayFixture(t *testing.T, wrap func(queue.Queue) queue.Queue) *gatewayFixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	f := &gatewayFixture{
		records: store.NewMemoryRecordStore(clk),
		queue:   queue.NewMemoryQueue(10*time.Minute, clk),
	}

	var q queue.Queue = f.queue
	if wrap != nil {
		q = wrap(q)
	}

	log, _ := logger.NewTestLogger()
	svc, err := gateway.NewService(f.records, q, clk, log)
	require.NoError(t, err)
	f.server = NewGatewayRouter(NewSummaryHandler(svc, log), log)
	return f
}

func decodeResult(t *testing.T, body []byte) gateway.Result {
	t.Helper()
	var result gateway.Result
	require.NoError(t, json.Unmarshal(body, &result))
	return result
}

func TestSummaryHandler_Submit(t *testing.T) {
	t.Parallel()

	body := `{"key":"1706.03762","source_locator":"https://arxiv.org/pdf/1706.03762","title":"Attention"}`

	t.Run("new key is enqueued", func(t *testing.T) {
		f := newGatewayFixture(t, nil)

		rr := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)

		require.Equal(t, http.StatusAccepted, rr.Code)
		result := decodeResult(t, rr.Body.Bytes())
		assert.Equal(t, gateway.OutcomeEnqueued, result.Outcome)
		assert.Equal(t, "New task enqueued", result.Message)
		assert.NotEmpty(t, result.TaskID)

		depth, err := f.queue.Depth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth.Visible)

		record, err := f.records.Get(context.Background(), "1706.03762")
		require.NoError(t, err)
		assert.JSONEq(t, body, string(record.Request), "original request is stored verbatim")
	})

	t.Run("resubmission while queued", func(t *testing.T) {
		f := newGatewayFixture(t, nil)

		first := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)
		require.Equal(t, http.StatusAccepted, first.Code)
		second := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)

		require.Equal(t, http.StatusAccepted, second.Code)
		result := decodeResult(t, second.Body.Bytes())
		assert.Equal(t, gateway.OutcomeAlreadyQueued, result.Outcome)
		assert.Equal(t, decodeResult(t, first.Body.Bytes()).TaskID, result.TaskID)
	})

	t.Run("cached summary answers 200", func(t *testing.T) {
		f := newGatewayFixture(t, nil)
		require.Equal(t, http.StatusAccepted,
			doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil).Code)
		require.NoError(t, f.records.Complete(context.Background(), "1706.03762", "Transformers."))

		rr := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)

		require.Equal(t, http.StatusOK, rr.Code)
		result := decodeResult(t, rr.Body.Bytes())
		assert.Equal(t, gateway.OutcomeCached, result.Outcome)
		require.NotNil(t, result.Record)
		assert.Equal(t, "Transformers.", result.Record.Summary)
	})

	t.Run("failed record is re-enqueued", func(t *testing.T) {
		f := newGatewayFixture(t, nil)
		require.Equal(t, http.StatusAccepted,
			doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil).Code)
		require.NoError(t, f.records.Fail(context.Background(), "1706.03762", "collaborator failure"))

		rr := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)

		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, gateway.OutcomeReEnqueued, decodeResult(t, rr.Body.Bytes()).Outcome)
	})

	t.Run("validation errors", func(t *testing.T) {
		f := newGatewayFixture(t, nil)

		tests := []struct {
			name    string
			body    string
			message string
		}{
			{name: "empty body", body: "", message: "Request body is required"},
			{name: "malformed JSON", body: "{", message: "Invalid request format"},
			{name: "missing key", body: `{"source_locator":"https://arxiv.org/pdf/1"}`, message: "Invalid key: required field"},
			{name: "bad locator", body: `{"key":"k","source_locator":"not a url"}`, message: "Invalid source_locator: invalid URL"},
		}
		for _, tc := range tests {
			rr := doRequest(t, f.server, http.MethodPost, "/api/summaries", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code, tc.name)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), tc.name)
			assert.Equal(t, tc.message, resp["error"], tc.name)
		}

		depth, err := f.queue.Depth(context.Background())
		require.NoError(t, err)
		assert.Zero(t, depth.Visible)
	})

	t.Run("queue failure answers 503", func(t *testing.T) {
		f := newGatewayFixture(t, func(q queue.Queue) queue.Queue { return sendFailQueue{Queue: q} })

		rr := doRequest(t, f.server, http.MethodPost, "/api/summaries", body, nil)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.NotContains(t, rr.Body.String(), "queue does not exist")

		record, err := f.records.Get(context.Background(), "1706.03762")
		require.NoError(t, err)
		assert.Equal(t, domain.RecordStateFailed, record.State())
	})
}

func TestSummaryHandler_Get(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, nil)
	legacy := `{"key":"hep-th/9901001","source_locator":"https://arxiv.org/pdf/hep-th/9901001"}`
	require.Equal(t, http.StatusAccepted,
		doRequest(t, f.server, http.MethodPost, "/api/summaries", legacy, nil).Code)

	t.Run("found", func(t *testing.T) {
		rr := doRequest(t, f.server, http.MethodGet, "/api/summaries/hep-th/9901001", "", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var record domain.Record
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
		assert.Equal(t, "hep-th/9901001", record.Key)
		assert.True(t, record.Processing)
	})

	t.Run("not found", func(t *testing.T) {
		rr := doRequest(t, f.server, http.MethodGet, "/api/summaries/0000.00000", "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("empty key", func(t *testing.T) {
		rr := doRequest(t, f.server, http.MethodGet, "/api/summaries/", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGatewayRouter_Health(t *testing.T) {
	t.Parallel()

	f := newGatewayFixture(t, nil)
	rr := doRequest(t, f.server, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"papersum-gateway"}`, rr.Body.String())
}
