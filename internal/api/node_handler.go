package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/papersum/internal/api/shared"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/phrazzld/papersum/internal/queue"
	"github.com/phrazzld/papersum/internal/task"
)

// NodeProcessor is the part of task.Processor the node endpoints use.
type NodeProcessor interface {
	Status() task.Status
	ResetCooldown() bool
	SummarizeSource(ctx context.Context, sourceLocator string) (string, error)
}

// NodeHandlerConfig describes the node for its status endpoints.
type NodeHandlerConfig struct {
	// Cooldown is reported by the shutdown test endpoint
	Cooldown time.Duration

	// RemoteLogging reports whether the remote log sink is enabled
	RemoteLogging bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	Processor         string `json:"processor"`
	CloudWatchLogging string `json:"cloudwatch_logging"`
}

// QueueStatusResponse is the body of GET /queue/status.
type QueueStatusResponse struct {
	VisibleMessages   int64  `json:"visible_messages"`
	InFlightMessages  int64  `json:"in_flight_messages"`
	LocalQueueSize    int    `json:"local_queue_size"`
	IsProcessing      bool   `json:"is_processing"`
	CooldownActive    bool   `json:"cooldown_active"`
	ShutdownRequested bool   `json:"shutdown_requested"`
	LastActivity      string `json:"last_activity"`
}

// TestShutdownResponse is the body of POST /debug/test-shutdown.
type TestShutdownResponse struct {
	Status              string  `json:"status"`
	CooldownMinutes     float64 `json:"cooldown_minutes"`
	CooldownTimerActive bool    `json:"cooldown_timer_active"`
	Note                string  `json:"note"`
}

// SummarizeResponse is the body of GET /summarize.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// NodeHandler serves the compute node's HTTP surface.
type NodeHandler struct {
	processor NodeProcessor
	queue     queue.Queue
	config    NodeHandlerConfig
	logger    *slog.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(processor NodeProcessor, q queue.Queue, config NodeHandlerConfig, log *slog.Logger) *NodeHandler {
	if processor == nil || q == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("processor and queue cannot be nil for NodeHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &NodeHandler{
		processor: processor,
		queue:     q,
		config:    config,
		logger:    log.With(slog.String("component", "node_handler")),
	}
}

// Health handles GET /health. It answers 503 once shutdown was requested so
// that wake probes stop treating the node as ready.
func (h *NodeHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.processor.Status()

	resp := HealthResponse{
		Status:            "healthy",
		Service:           "papersum-node",
		Processor:         "running",
		CloudWatchLogging: "disabled",
	}
	if h.config.RemoteLogging {
		resp.CloudWatchLogging = "enabled"
	}

	code := http.StatusOK
	if status.ShutdownRequested {
		resp.Status = "shutting_down"
		resp.Processor = "stopping"
		code = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, code, resp)
}

// QueueStatus handles GET /queue/status.
func (h *NodeHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway, "Failed to read queue depth", err)
		return
	}

	status := h.processor.Status()
	shared.RespondWithJSON(w, r, http.StatusOK, QueueStatusResponse{
		VisibleMessages:   depth.Visible,
		InFlightMessages:  depth.InFlight,
		LocalQueueSize:    status.RunQueueLength,
		IsProcessing:      status.Draining,
		CooldownActive:    status.CooldownActive,
		ShutdownRequested: status.ShutdownRequested,
		LastActivity:      status.LastActivity.UTC().Format(time.RFC3339Nano),
	})
}

// TestShutdown handles POST /debug/test-shutdown. It only re-arms the
// cooldown timer; the node powers off when that timer expires.
func (h *NodeHandler) TestShutdown(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	operator, _ := shared.GetOperator(r.Context())
	log.Info("manual shutdown test initiated", "operator", operator)

	if !h.processor.ResetCooldown() {
		shared.RespondWithError(w, r, http.StatusConflict, "Shutdown already requested")
		return
	}
	log.Info("cooldown timer has been reset for testing", "cooldown", h.config.Cooldown)

	shared.RespondWithJSON(w, r, http.StatusOK, TestShutdownResponse{
		Status:              "shutdown_simulated",
		CooldownMinutes:     h.config.Cooldown.Minutes(),
		CooldownTimerActive: h.processor.Status().CooldownActive,
		Note:                "cooldown re-armed; the node shuts down when it expires unless new work arrives",
	})
}

// Summarize handles GET /summarize?source_locator=… synchronously, bypassing
// the queue and the record store. pdf_url is accepted as an alias.
func (h *NodeHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	src := strings.TrimSpace(r.URL.Query().Get("source_locator"))
	if src == "" {
		src = strings.TrimSpace(r.URL.Query().Get("pdf_url"))
	}
	if src == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "source_locator is required")
		return
	}

	log := logger.FromContext(r.Context()).With("source_locator", src)
	log.Info("received summarization request")

	summary, err := h.processor.SummarizeSource(r.Context(), src)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to summarize document")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SummarizeResponse{Summary: strings.TrimSpace(summary)})
}
