package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
)

// WorkerHandler serves fleet and queue observability endpoints.
type WorkerHandler struct {
	registry *registry.Registry
	queue    *queue.Queue
	apiTypes []string
}

func NewWorkerHandler(reg *registry.Registry, q *queue.Queue, apiTypes []string) *WorkerHandler {
	return &WorkerHandler{registry: reg, queue: q, apiTypes: apiTypes}
}

// ListResponse is the GET /workers body.
type ListResponse struct {
	Workers []*registry.Worker `json:"workers"`
	Total   int                `json:"total"`
}

// List handles GET /workers.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers := h.registry.All()
	respondJSON(w, http.StatusOK, ListResponse{
		Workers: workers,
		Total:   len(workers),
	})
}

// TypeStatsResponse is the GET /workers/{apiType}/stats body.
type TypeStatsResponse struct {
	APIType string         `json:"api_type"`
	Workers registry.Stats `json:"workers"`
	Pending int64          `json:"pending_tasks"`
}

// TypeStats handles GET /workers/{apiType}/stats.
func (h *WorkerHandler) TypeStats(w http.ResponseWriter, r *http.Request) {
	apiType := chi.URLParam(r, "apiType")

	known := false
	for _, t := range h.apiTypes {
		if t == apiType {
			known = true
			break
		}
	}
	if !known {
		respondError(w, http.StatusBadRequest, "unknown api_type")
		return
	}

	pending, err := h.queue.PendingCount(r.Context(), apiType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	respondJSON(w, http.StatusOK, TypeStatsResponse{
		APIType: apiType,
		Workers: h.registry.Stats(apiType),
		Pending: pending,
	})
}

// QueueStats handles GET /queue/stats.
func (h *WorkerHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.Stats(r.Context(), h.apiTypes))
}
