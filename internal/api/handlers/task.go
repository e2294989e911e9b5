package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/task"
)

// TaskHandler serves the task control surface.
type TaskHandler struct {
	queue    *queue.Queue
	apiTypes map[string]bool
}

func NewTaskHandler(q *queue.Queue, apiTypes []string) *TaskHandler {
	types := make(map[string]bool, len(apiTypes))
	for _, t := range apiTypes {
		types[t] = true
	}
	return &TaskHandler{queue: q, apiTypes: types}
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Submit handles POST /tasks/submit.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.apiTypes[req.APIType] {
		respondError(w, http.StatusBadRequest, "unknown api_type")
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	// External submitters cannot impersonate the enrichment manager.
	switch req.Source {
	case "", string(task.SourceUser):
	default:
		respondError(w, http.StatusBadRequest, "invalid source")
		return
	}

	t, err := h.queue.Enqueue(r.Context(), &req)
	if err != nil {
		logger.Error().Err(err).Str("api_type", req.APIType).Msg("failed to enqueue task")
		respondError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitResponse{
		TaskID: t.ID,
		Status: t.Status.String(),
	})
}

// Get handles GET /tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.queue.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	respondJSON(w, http.StatusOK, t.ToResponse())
}

// CancelResponse reports a single-task cancellation outcome.
type CancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// Cancel handles DELETE /tasks/{taskID}. Running tasks are not cancellable;
// the response carries cancelled=false rather than an error.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	cancelled, err := h.queue.Cancel(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	respondJSON(w, http.StatusOK, CancelResponse{TaskID: taskID, Cancelled: cancelled})
}

// CancelPendingResponse reports a bulk cancellation outcome.
type CancelPendingResponse struct {
	APIType        string `json:"api_type"`
	CancelledCount int    `json:"cancelled_count"`
}

// CancelPending handles DELETE /tasks/pending?api_type=...
func (h *TaskHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	apiType := r.URL.Query().Get("api_type")
	if !h.apiTypes[apiType] {
		respondError(w, http.StatusBadRequest, "unknown api_type")
		return
	}

	count, err := h.queue.CancelPending(r.Context(), apiType)
	if err != nil {
		logger.Error().Err(err).Str("api_type", apiType).Msg("failed to cancel pending tasks")
		respondError(w, http.StatusInternalServerError, "failed to cancel pending tasks")
		return
	}

	logger.Info().Str("api_type", apiType).Int("count", count).Msg("pending tasks cancelled")
	respondJSON(w, http.StatusOK, CancelPendingResponse{APIType: apiType, CancelledCount: count})
}
