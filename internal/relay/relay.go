// Package relay forwards worker status frames to the control plane so it can
// surface scrape progress to end users. Delivery is fire-and-forget: a failed
// POST is logged and never retried, and never touches task state.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/metrics"
)

// Update is the status callback body.
type Update struct {
	TaskID     string                 `json:"task_id"`
	ReportID   string                 `json:"report_id"`
	StepKey    string                 `json:"step_key"`
	DetailType string                 `json:"detail_type"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type Relay struct {
	statusURL string
	client    *http.Client
}

func New(cfg *config.BackendConfig) *Relay {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		statusURL: cfg.StatusURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Forward posts one status update asynchronously.
func (r *Relay) Forward(u *Update) {
	go func() {
		if err := r.post(u); err != nil {
			metrics.RecordStatusRelay("error")
			logger.WithTask(u.TaskID).Warn().
				Err(err).
				Str("step_key", u.StepKey).
				Msg("status relay failed")
			return
		}
		metrics.RecordStatusRelay("ok")
	}()
}

func (r *Relay) post(u *Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.statusURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned %d", resp.StatusCode)
	}
	return nil
}
