package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/scrapeflow/orchestrator/internal/logger"
)

// ProgressUpdate is what the local scraper posts while a task runs.
type ProgressUpdate struct {
	TaskID     string                 `json:"task_id"`
	StepKey    string                 `json:"step_key"`
	DetailType string                 `json:"detail_type"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Receiver is the agent's local HTTP endpoint for scraper progress. The
// scraper posts updates here; the receiver turns them into status frames.
type Receiver struct {
	agent  *Agent
	server *http.Server
}

func NewReceiver(agent *Agent, port int) *Receiver {
	r := &Receiver{agent: agent}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Post("/status", r.handleStatus)

	r.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return r
}

// Start serves until the listener fails or Stop is called.
func (r *Receiver) Start() {
	go func() {
		logger.Info().Str("addr", r.server.Addr).Msg("progress receiver listening")
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("progress receiver failed")
		}
	}()
}

// Stop shuts the receiver down.
func (r *Receiver) Stop(ctx context.Context) {
	if err := r.server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("progress receiver shutdown failed")
	}
}

func (r *Receiver) handleStatus(w http.ResponseWriter, req *http.Request) {
	var update ProgressUpdate
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if update.TaskID == "" {
		// Scrapers that predate task correlation omit the id; attribute
		// the update to whatever is running.
		r.agent.mu.Lock()
		update.TaskID = r.agent.currentTaskID
		r.agent.mu.Unlock()
	}
	if update.TaskID == "" {
		http.Error(w, "no task running", http.StatusConflict)
		return
	}

	r.agent.SendStatus(update.TaskID, update.StepKey, update.DetailType, update.Message, update.Data)
	w.WriteHeader(http.StatusAccepted)
}
