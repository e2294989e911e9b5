package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/store"
	"github.com/scrapeflow/orchestrator/internal/task"
)

// fakeControlPlane scripts the enrichment endpoints and records callbacks.
type fakeControlPlane struct {
	mu        sync.Mutex
	status    StatusResponse
	keywords  []Keyword
	callbacks []Callback
}

func (f *fakeControlPlane) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/enrichment/internal/status/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(f.status)
	})
	mux.HandleFunc("/enrichment/internal/keywords/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(f.keywords)
	})
	mux.HandleFunc("/enrichment/callback/", func(w http.ResponseWriter, r *http.Request) {
		var cb Callback
		if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
	})
	return mux
}

func (f *fakeControlPlane) recorded() []Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Callback(nil), f.callbacks...)
}

type nopSession struct{}

func (nopSession) Send(_ *protocol.Frame) error { return nil }
func (nopSession) Close()                       {}

type fixture struct {
	manager  *Manager
	queue    *queue.Queue
	registry *registry.Registry
	plane    *fakeControlPlane
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	plane := &fakeControlPlane{
		status:   StatusResponse{IsPaused: false},
		keywords: []Keyword{{ID: 11, Keyword: "fintech", NumCompanies: 50}},
	}
	srv := httptest.NewServer(plane.handler())
	t.Cleanup(srv.Close)

	st := store.NewMemory()
	reg := registry.New(&config.WorkerConfig{
		Timeout:          time.Minute,
		TokensCrunchbase: []string{"cb-token"},
	}, st)
	q := queue.New(&config.TaskConfig{
		Timeout:     time.Minute,
		RetryLimit:  3,
		TerminalTTL: time.Hour,
	}, st, reg, nil)

	cfg := &config.EnrichmentConfig{
		Enabled:       true,
		TickInterval:  time.Second,
		APIType:       "crunchbase",
		Priority:      -10,
		DaysThreshold: 30,
	}
	client := NewClient(&config.BackendConfig{URL: srv.URL, CallTimeout: time.Second})
	m := NewManager(cfg, client, q, reg)
	q.SetTerminalHook(m.HandleTerminal)

	return &fixture{manager: m, queue: q, registry: reg, plane: plane, server: srv}
}

func TestManager_Tick_DispatchesKeyword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Authenticate(ctx, "crunchbase", "cb-token", nil, nopSession{})
	require.NoError(t, err)

	f.manager.tick(ctx)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	callbacks := f.plane.recorded()
	require.Len(t, callbacks, 1)
	assert.Equal(t, CallbackStart, callbacks[0].Action)
	assert.Equal(t, 11, callbacks[0].KeywordID)
	assert.NotEmpty(t, callbacks[0].TaskID)

	got, err := f.queue.Get(ctx, callbacks[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.SourceEnrichment, got.Source)
	assert.Equal(t, -10, got.Priority)
	assert.Equal(t, "enrich", got.Action)
	assert.Equal(t, float64(50), toFloat(got.Payload["num_companies"]))
	assert.Equal(t, float64(11), toFloat(got.Payload[payloadKeywordID]))
}

func TestManager_Tick_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Authenticate(ctx, "crunchbase", "cb-token", nil, nopSession{})
	require.NoError(t, err)

	f.plane.mu.Lock()
	f.plane.status.IsPaused = true
	f.plane.mu.Unlock()

	f.manager.tick(ctx)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
	assert.Empty(t, f.plane.recorded())
}

func TestManager_Tick_HoldsOnBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Authenticate(ctx, "crunchbase", "cb-token", nil, nopSession{})
	require.NoError(t, err)

	// A user task is already waiting; enrichment must not pile on.
	_, err = f.queue.Enqueue(ctx, &task.SubmitRequest{APIType: "crunchbase", Action: "scrape"})
	require.NoError(t, err)

	f.manager.tick(ctx)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
	assert.Empty(t, f.plane.recorded())
}

func TestManager_Tick_HoldsWithoutIdleWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.tick(ctx)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
	assert.Empty(t, f.plane.recorded())
}

func TestManager_Tick_NoKeywords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Authenticate(ctx, "crunchbase", "cb-token", nil, nopSession{})
	require.NoError(t, err)

	f.plane.mu.Lock()
	f.plane.keywords = nil
	f.plane.mu.Unlock()

	f.manager.tick(ctx)
	assert.Empty(t, f.plane.recorded())
}

func TestManager_HandleTerminal(t *testing.T) {
	t.Run("completed reports counts", func(t *testing.T) {
		f := newFixture(t)

		tk := task.New("crunchbase", "enrich", "", map[string]interface{}{
			payloadKeywordID: float64(7),
		}, -10)
		tk.Source = task.SourceEnrichment
		require.NoError(t, tk.Assign("worker-1"))
		require.NoError(t, tk.Complete(map[string]interface{}{
			"companies_found":   float64(40),
			"companies_scraped": float64(38),
		}))

		f.manager.HandleTerminal(tk)

		callbacks := f.plane.recorded()
		require.Len(t, callbacks, 1)
		assert.Equal(t, CallbackComplete, callbacks[0].Action)
		assert.Equal(t, 7, callbacks[0].KeywordID)
		assert.Equal(t, 40, callbacks[0].CompaniesFound)
		assert.Equal(t, 38, callbacks[0].CompaniesScraped)
	})

	t.Run("failed reports the error", func(t *testing.T) {
		f := newFixture(t)

		tk := task.New("crunchbase", "enrich", "", map[string]interface{}{
			payloadKeywordID: float64(8),
		}, -10)
		tk.Source = task.SourceEnrichment
		require.NoError(t, tk.Assign("worker-1"))
		require.NoError(t, tk.Fail("scraper crashed"))

		f.manager.HandleTerminal(tk)

		callbacks := f.plane.recorded()
		require.Len(t, callbacks, 1)
		assert.Equal(t, CallbackError, callbacks[0].Action)
		assert.Equal(t, "scraper crashed", callbacks[0].ErrorMessage)
	})

	t.Run("user tasks are ignored", func(t *testing.T) {
		f := newFixture(t)

		tk := task.New("crunchbase", "scrape", "", nil, 0)
		require.NoError(t, tk.Assign("worker-1"))
		require.NoError(t, tk.Complete(nil))

		f.manager.HandleTerminal(tk)
		assert.Empty(t, f.plane.recorded())
	})
}

func TestKeywordIDFromPayload(t *testing.T) {
	id, ok := keywordIDFromPayload(map[string]interface{}{payloadKeywordID: float64(3)})
	assert.True(t, ok)
	assert.Equal(t, 3, id)

	id, ok = keywordIDFromPayload(map[string]interface{}{payloadKeywordID: 4})
	assert.True(t, ok)
	assert.Equal(t, 4, id)

	_, ok = keywordIDFromPayload(map[string]interface{}{})
	assert.False(t, ok)

	_, ok = keywordIDFromPayload(nil)
	assert.False(t, ok)
}

func TestCompanyCounts(t *testing.T) {
	found, scraped := companyCounts(map[string]interface{}{
		"companies_found":   float64(12),
		"companies_scraped": float64(9),
	})
	assert.Equal(t, 12, found)
	assert.Equal(t, 9, scraped)

	found, scraped = companyCounts(nil)
	assert.Zero(t, found)
	assert.Zero(t, scraped)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return -1
	}
}
