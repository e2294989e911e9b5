package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// actionEndpoints maps task actions to the local scraper's HTTP routes,
// per api_type. Actions missing from the table fall back to /{action}.
var actionEndpoints = map[string]map[string]string{
	"crunchbase": {
		"scrape":  "/scrape",
		"enrich":  "/enrich",
		"extract": "/extract",
	},
	"tracxn": {
		"scrape": "/scrape",
		"export": "/export",
	},
	"social": {
		"scrape":  "/scrape",
		"profile": "/profile",
	},
}

// maxErrorBody bounds the scraper error text carried back in error frames.
const maxErrorBody = 2048

// Adapter translates task frames into calls against the local scraper API.
type Adapter struct {
	baseURL string
	apiType string
	client  *http.Client
}

func NewAdapter(baseURL, apiType string) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiType: apiType,
		// No client timeout: scrapes legitimately run for hours. The
		// task context carries cancellation instead.
		client: &http.Client{},
	}
}

// Endpoint resolves the local route for an action.
func (a *Adapter) Endpoint(action string) string {
	if table, ok := actionEndpoints[a.apiType]; ok {
		if ep, ok := table[action]; ok {
			return ep
		}
	}
	return "/" + action
}

// Execute runs one task against the scraper and returns its result document.
func (a *Adapter) Execute(ctx context.Context, action string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	url := a.baseURL + a.Endpoint(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build scraper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read scraper response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scraper returned %d: %s", resp.StatusCode, truncate(string(data), maxErrorBody))
	}

	var result map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			// Non-JSON success bodies still count as completion.
			result = map[string]interface{}{"raw": truncate(string(data), maxErrorBody)}
		}
	}
	return result, nil
}

// Healthy checks the scraper's health endpoint.
func (a *Adapter) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < 300
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
