package handlers

import (
	"net/http"

	"github.com/marmos91/chainstream/pkg/stream"
)

// HealthHandler handles the unauthenticated health probes.
type HealthHandler struct {
	manager *stream.Manager
}

// NewHealthHandler creates a health handler. The manager may be nil, in
// which case the readiness probe reports unhealthy.
func NewHealthHandler(manager *stream.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// Liveness handles GET /health. It succeeds whenever the HTTP server is
// responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "chainstream",
	}))
}

// Readiness handles GET /health/ready. The server is ready once the job
// manager is wired up and its store answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("job manager not initialized"))
		return
	}

	recs, err := h.manager.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"jobs": len(recs),
	}))
}
