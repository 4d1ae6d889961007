package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/papersum/internal/api/middleware"
	"github.com/phrazzld/papersum/internal/api/shared"
	"github.com/phrazzld/papersum/internal/auth"
)

func newRouter(log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(log))
	return r
}

// NewNodeRouter routes the compute node's endpoints. tokens protects the
// debug routes and may be nil to leave them open.
func NewNodeRouter(h *NodeHandler, tokens auth.TokenService, log *slog.Logger) http.Handler {
	r := newRouter(log)

	r.Get("/health", h.Health)
	r.Get("/queue/status", h.QueueStatus)
	r.Get("/summarize", h.Summarize)

	r.Route("/debug", func(r chi.Router) {
		r.Use(middleware.Optional(tokens))
		r.Post("/test-shutdown", h.TestShutdown)
	})

	return r
}

// NewGatewayRouter routes the enqueue gateway's endpoints.
func NewGatewayRouter(h *SummaryHandler, log *slog.Logger) http.Handler {
	r := newRouter(log)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "papersum-gateway",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/summaries", h.Submit)
		r.Get("/summaries/*", h.Get)
	})

	return r
}
