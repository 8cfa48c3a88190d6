package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camforge/camforge/internal/store/model"
)

type deadLetterResponse struct {
	ID        uint      `json:"id"`
	JobID     string    `json:"job_id"`
	Task      string    `json:"task"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

func toDeadLetterResponse(letter *model.DeadLetter) deadLetterResponse {
	return deadLetterResponse{
		ID:        letter.ID,
		JobID:     letter.JobID.String(),
		Task:      letter.Task,
		Reason:    letter.Reason,
		Attempts:  letter.Attempts,
		CreatedAt: letter.CreatedAt,
	}
}

func (h *ServiceHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)

	letters, total, err := h.dlqService.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	responses := make([]deadLetterResponse, 0, len(letters))
	for i := range letters {
		responses = append(responses, toDeadLetterResponse(&letters[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dead_letters": responses,
		"total":        total,
	})
}

func (h *ServiceHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	job, err := h.dlqService.Requeue(r.Context(), uint(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}
