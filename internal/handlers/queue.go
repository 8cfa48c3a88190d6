package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *ServiceHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.queueService.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": statuses})
}

func (h *ServiceHandler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.queueService.Pause(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"queue": name, "state": "paused"})
}

func (h *ServiceHandler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.queueService.Resume(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"queue": name, "state": "running"})
}
