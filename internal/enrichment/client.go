package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrapeflow/orchestrator/internal/config"
)

// StatusResponse is the control plane's enrichment gate.
type StatusResponse struct {
	IsPaused     bool `json:"is_paused"`
	PendingCount int  `json:"pending_count"`
}

// Keyword is one enrichment candidate from the control plane.
type Keyword struct {
	ID           int    `json:"id"`
	Keyword      string `json:"keyword"`
	NumCompanies int    `json:"num_companies"`
}

// Callback reports enrichment lifecycle back to the control plane.
type Callback struct {
	KeywordID        int    `json:"keyword_id"`
	Action           string `json:"action"`
	TaskID           string `json:"task_id,omitempty"`
	CompaniesFound   int    `json:"companies_found,omitempty"`
	CompaniesScraped int    `json:"companies_scraped,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

const (
	CallbackStart    = "start"
	CallbackComplete = "complete"
	CallbackError    = "error"
)

// Client talks to the control plane's internal enrichment endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg *config.BackendConfig) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Status fetches the pause flag and backlog count.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.getJSON(ctx, "/enrichment/internal/status/", &status); err != nil {
		return nil, fmt.Errorf("failed to fetch enrichment status: %w", err)
	}
	return &status, nil
}

// NextKeywords fetches keywords due for enrichment, highest priority first.
func (c *Client) NextKeywords(ctx context.Context) ([]Keyword, error) {
	var keywords []Keyword
	if err := c.getJSON(ctx, "/enrichment/internal/keywords/", &keywords); err != nil {
		return nil, fmt.Errorf("failed to fetch enrichment keywords: %w", err)
	}
	return keywords, nil
}

// SendCallback posts a lifecycle callback.
func (c *Client) SendCallback(ctx context.Context, cb *Callback) error {
	body, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enrichment/callback/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
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

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("control plane returned %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
