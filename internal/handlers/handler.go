// Package handlers exposes the orchestration API over chi. Handlers decode
// and validate the wire shapes, the services own the semantics.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camforge/camforge/internal/auth"
	"github.com/camforge/camforge/internal/service"
	"github.com/camforge/camforge/pkg/requestid"
)

type ServiceHandler struct {
	jobService   *service.JobService
	dlqService   *service.DeadLetterService
	queueService *service.QueueService
}

func NewServiceHandler(jobService *service.JobService, dlqService *service.DeadLetterService, queueService *service.QueueService) *ServiceHandler {
	return &ServiceHandler{
		jobService:   jobService,
		dlqService:   dlqService,
		queueService: queueService,
	}
}

func (h *ServiceHandler) Routes(router chi.Router) {
	router.Get("/health", h.Health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.With(auth.AdminRequired).Post("/jobs/{id}/cancel", h.CancelJob)

		r.Get("/queues", h.QueueStatus)
		r.With(auth.AdminRequired).Post("/queues/{name}/pause", h.PauseQueue)
		r.With(auth.AdminRequired).Post("/queues/{name}/resume", h.ResumeQueue)

		r.With(auth.AdminRequired).Get("/dead-letters", h.ListDeadLetters)
		r.With(auth.AdminRequired).Post("/dead-letters/{id}/requeue", h.RequeueDeadLetter)
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		RequestID: requestid.FromRequest(r),
	})
}
