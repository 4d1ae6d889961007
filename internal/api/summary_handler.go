package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/papersum/internal/api/shared"
	"github.com/phrazzld/papersum/internal/gateway"
	"github.com/phrazzld/papersum/internal/platform/logger"
)

// SummaryHandler serves the gateway's submission endpoints.
type SummaryHandler struct {
	service gateway.Service
	logger  *slog.Logger
}

// NewSummaryHandler creates a SummaryHandler.
func NewSummaryHandler(service gateway.Service, log *slog.Logger) *SummaryHandler {
	if service == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("gateway service cannot be nil for SummaryHandler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SummaryHandler{
		service: service,
		logger:  log.With(slog.String("component", "summary_handler")),
	}
}

// Submit handles POST /api/summaries. Cached summaries answer 200; every
// other outcome answers 202 because processing is asynchronous.
func (h *SummaryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var submission gateway.Submission
	raw, err := shared.DecodeJSON(w, r, &submission)
	if err != nil {
		msg := "Invalid request format"
		if errors.Is(err, shared.ErrEmptyBody) {
			msg = "Request body is required"
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, msg, err)
		return
	}

	result, err := h.service.Submit(r.Context(), submission, raw)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	logger.FromContext(r.Context()).Info("submission handled",
		"key", submission.Key,
		"outcome", result.Outcome,
		"task_id", result.TaskID)

	status := http.StatusAccepted
	if result.Outcome == gateway.OutcomeCached {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, result)
}

// Get handles GET /api/summaries/{key}. Keys may contain slashes, so the
// route uses a wildcard.
func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	record, err := h.service.Get(r.Context(), key)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load summary")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, record)
}
