package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/auth"
	"github.com/camforge/camforge/internal/service"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

const maxRequestBodyBytes = 10 << 20

type submitJobRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ParentJobID    *uuid.UUID      `json:"parent_job_id,omitempty"`
}

type jobResponse struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Queue          string          `json:"queue"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ParentJobID    *string         `json:"parent_job_id,omitempty"`
	Attempts       int             `json:"attempts"`
	ErrorCode      *string         `json:"error_code,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
	Artefacts      json.RawMessage `json:"artefacts,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func toJobResponse(job *model.Job) jobResponse {
	resp := jobResponse{
		ID:             job.ID.String(),
		Type:           job.Type,
		Status:         job.Status,
		Queue:          job.Queue,
		IdempotencyKey: job.IdempotencyKey,
		Attempts:       job.Attempts,
		ErrorCode:      job.ErrorCode,
		ErrorMessage:   job.ErrorMessage,
		SubmittedAt:    job.SubmittedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
	if job.ParentJobID != nil {
		parent := job.ParentJobID.String()
		resp.ParentJobID = &parent
	}
	if job.Metrics != nil {
		if data, err := json.Marshal(job.Metrics.Data); err == nil {
			resp.Metrics = data
		}
	}
	if job.Artefacts != nil {
		if data, err := json.Marshal(job.Artefacts.Data); err == nil {
			resp.Artefacts = data
		}
	}
	return resp
}

func (h *ServiceHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	job, created, err := h.jobService.Submit(r.Context(), service.SubmitForm{
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		ParentJobID:    req.ParentJobID,
		Identity:       submitterIdentity(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// an idempotency hit returns the job that already exists
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, toJobResponse(job))
}

func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.NewJobQueryFilter()
	if jobType := r.URL.Query().Get("type"); jobType != "" {
		filter = filter.WithType(jobType)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter = filter.WithStatus(status)
	}
	if queueName := r.URL.Query().Get("queue"); queueName != "" {
		filter = filter.WithQueue(queueName)
	}

	opts := store.NewJobQueryOptions().WithLimit(parseIntParam(r, "limit", 50)).WithOffset(parseIntParam(r, "offset", 0))

	jobs, err := h.jobService.List(r.Context(), filter, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	responses := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, toJobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": responses})
}

func (h *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobService.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// submitterIdentity keys the rate window by caller, not just route class.
func submitterIdentity(r *http.Request) admission.Identity {
	identity := admission.Identity{Addr: clientAddr(r)}
	if user, found := auth.UserFromContext(r.Context()); found {
		identity.UserID = user.Username
	}
	return identity
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.As(err, new(*service.ErrInvalidJob)):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, new(*service.ErrQueuePaused)):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, new(*service.ErrRateLimited)):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.As(err, new(*service.ErrBrokerUnavailable)):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, new(*service.ErrResourceNotFound)):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, new(*service.ErrQueueNotFound)):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, new(*service.ErrDeadLetterNotFound)):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, new(*service.ErrJobAlreadyTerminal)):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
