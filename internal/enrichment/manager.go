// Package enrichment fills idle crunchbase capacity with background keyword
// scrapes. The control plane owns what to enrich and when to pause; the
// manager only decides when the fleet has room. Enrichment tasks ride the
// normal queue at a deeply negative priority so any user submission preempts
// them.
package enrichment

import (
	"context"
	"sync"
	"time"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/metrics"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/task"
)

// payloadKeywordID carries the control plane's keyword id through the task
// payload so the terminal hook can correlate callbacks.
const payloadKeywordID = "enrichment_keyword_id"

// Manager runs the enrichment decision loop.
type Manager struct {
	cfg      *config.EnrichmentConfig
	client   *Client
	queue    *queue.Queue
	registry *registry.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(cfg *config.EnrichmentConfig, client *Client, q *queue.Queue, reg *registry.Registry) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		queue:    q,
		registry: reg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the decision loop. No-op when enrichment is disabled.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		logger.WithComponent("enrichment").Info().Msg("enrichment disabled")
		return
	}

	m.wg.Add(1)
	go m.run(ctx)

	logger.WithComponent("enrichment").Info().
		Dur("tick", m.cfg.TickInterval).
		Str("api_type", m.cfg.APIType).
		Int("priority", m.cfg.Priority).
		Msg("enrichment manager started")
}

// Stop halts the decision loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one decision round: dispatch a single keyword when the control
// plane is not paused and the fleet has idle capacity with no backlog.
func (m *Manager) tick(ctx context.Context) {
	log := logger.WithComponent("enrichment")

	status, err := m.client.Status(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("skipping tick, status check failed")
		return
	}
	if status.IsPaused {
		log.Debug().Msg("enrichment paused by control plane")
		return
	}

	pending, err := m.queue.PendingCount(ctx, m.cfg.APIType)
	if err != nil {
		log.Warn().Err(err).Msg("skipping tick, queue depth unavailable")
		return
	}
	if pending > 0 {
		log.Debug().Int64("pending", pending).Msg("queue has backlog, holding enrichment")
		return
	}

	stats := m.registry.Stats(m.cfg.APIType)
	if stats.Idle == 0 {
		log.Debug().Msg("no idle workers, holding enrichment")
		return
	}

	keywords, err := m.client.NextKeywords(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("skipping tick, keyword fetch failed")
		return
	}
	if len(keywords) == 0 {
		log.Debug().Msg("no keywords due for enrichment")
		return
	}

	m.dispatch(ctx, keywords[0])
}

// dispatch submits one enrichment task and reports the start callback.
func (m *Manager) dispatch(ctx context.Context, kw Keyword) {
	log := logger.WithComponent("enrichment")

	t, err := m.queue.Enqueue(ctx, &task.SubmitRequest{
		APIType:  m.cfg.APIType,
		Action:   "enrich",
		Priority: m.cfg.Priority,
		Source:   string(task.SourceEnrichment),
		Payload: map[string]interface{}{
			"keywords":       []string{kw.Keyword},
			"num_companies":  kw.NumCompanies,
			"days_threshold": m.cfg.DaysThreshold,
			payloadKeywordID: kw.ID,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("keyword", kw.Keyword).Msg("failed to enqueue enrichment task")
		return
	}

	if err := m.client.SendCallback(ctx, &Callback{
		KeywordID: kw.ID,
		Action:    CallbackStart,
		TaskID:    t.ID,
	}); err != nil {
		log.Warn().Err(err).Int("keyword_id", kw.ID).Msg("start callback failed")
	}

	metrics.RecordEnrichmentDispatch()
	log.Info().
		Str("task_id", t.ID).
		Str("keyword", kw.Keyword).
		Int("keyword_id", kw.ID).
		Msg("enrichment task dispatched")
}

// HandleTerminal is the queue's terminal hook: it reports completion or
// failure of enrichment tasks back to the control plane. Non-enrichment tasks
// pass through untouched.
func (m *Manager) HandleTerminal(t *task.Task) {
	if t.Source != task.SourceEnrichment {
		return
	}
	keywordID, ok := keywordIDFromPayload(t.Payload)
	if !ok {
		logger.WithTask(t.ID).Warn().Msg("enrichment task without keyword id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cb := &Callback{KeywordID: keywordID, TaskID: t.ID}
	switch t.Status {
	case task.StatusCompleted:
		cb.Action = CallbackComplete
		cb.CompaniesFound, cb.CompaniesScraped = companyCounts(t.Result)
	case task.StatusFailed:
		cb.Action = CallbackError
		cb.ErrorMessage = t.Error
	case task.StatusCancelled:
		cb.Action = CallbackError
		cb.ErrorMessage = "task cancelled"
	default:
		return
	}

	outcome := "ok"
	if err := m.client.SendCallback(ctx, cb); err != nil {
		outcome = "error"
		logger.WithTask(t.ID).Warn().
			Err(err).
			Int("keyword_id", keywordID).
			Msg("enrichment callback failed")
	}
	metrics.RecordEnrichmentCallback(cb.Action, outcome)
}

// keywordIDFromPayload digs the keyword id out of the task payload. JSON
// round-trips turn it into a float64.
func keywordIDFromPayload(payload map[string]interface{}) (int, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[payloadKeywordID].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// companyCounts reads scrape totals out of a worker result. Workers are not
// required to report them; absent fields count as zero.
func companyCounts(result map[string]interface{}) (found, scraped int) {
	if result == nil {
		return 0, 0
	}
	if v, ok := result["companies_found"].(float64); ok {
		found = int(v)
	}
	if v, ok := result["companies_scraped"].(float64); ok {
		scraped = int(v)
	}
	return found, scraped
}
