// Package api exposes the management HTTP API: health probes, job
// inspection and lifecycle endpoints, and the Prometheus scrape target.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/chainstream/internal/logger"
	"github.com/marmos91/chainstream/pkg/api/handlers"
	"github.com/marmos91/chainstream/pkg/metrics"
	"github.com/marmos91/chainstream/pkg/stream"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET  /health                   - liveness probe
//   - GET  /health/ready             - readiness probe
//   - GET  /api/v1/jobs              - list jobs
//   - GET  /api/v1/jobs/{id}         - job details
//   - POST /api/v1/jobs/{id}/cancel  - request cancellation
//   - POST /api/v1/jobs/{id}/resume  - lift a stop-mode pause
//   - GET  /metrics                  - Prometheus exposition
func NewRouter(manager *stream.Manager) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(manager)
	jobsHandler := handlers.NewJobsHandler(manager)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", jobsHandler.List)
		r.Get("/{id}", jobsHandler.Get)
		r.Post("/{id}/cancel", jobsHandler.Cancel)
		r.Post("/{id}/resume", jobsHandler.Resume)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// requestLogger logs requests through the internal logger: start at DEBUG,
// completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
