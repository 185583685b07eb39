package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/chainstream/pkg/stream"
)

// JobsHandler serves the job management endpoints.
type JobsHandler struct {
	manager *stream.Manager
}

// NewJobsHandler creates a jobs handler backed by the given manager.
func NewJobsHandler(manager *stream.Manager) *JobsHandler {
	return &JobsHandler{manager: manager}
}

// List handles GET /api/v1/jobs. Running jobs report live progress;
// finished jobs come from the job store.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.manager.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(recs))
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.manager.Get(r.Context(), id)
	if errors.Is(err, stream.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(rec))
}

// Cancel handles POST /api/v1/jobs/{id}/cancel. Cancellation is
// cooperative: the job stops at its next suspension point, so the response
// only acknowledges the request.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.manager.Cancel(id); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse(map[string]string{"id": id}))
}

// Resume handles POST /api/v1/jobs/{id}/resume, lifting a stop-mode pause.
func (h *JobsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.manager.Resume(id); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse(map[string]string{"id": id}))
}
