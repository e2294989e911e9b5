package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/events"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/metrics"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/store"
)

// Session is the send surface the registry keeps per connected worker. The
// session package implements it; the indirection keeps the registry free of
// transport concerns.
type Session interface {
	Send(f *protocol.Frame) error
	Close()
}

// EvictionHandler receives the evicted worker's current task so the queue can
// run its failure path. taskID may be empty for idle workers.
type EvictionHandler func(workerID, apiType, taskID, reason string)

var (
	ErrAuthFailed     = errors.New("invalid token")
	ErrUnknownAPIType = errors.New("unknown api_type")
	ErrWorkerNotFound = errors.New("worker not found")
)

// strandedTask is an in-flight task whose worker's connection dropped. The
// assignment stays alive until the deadline so a reconnecting worker can
// still deliver the outcome; only when the window expires does the task take
// the failure path.
type strandedTask struct {
	workerID string
	apiType  string
	reason   string
	deadline time.Time
}

// Registry tracks the set of currently connected workers, authenticates new
// sessions, and evicts workers whose heartbeats stop.
type Registry struct {
	cfg   *config.WorkerConfig
	store store.Store

	mu       sync.RWMutex
	workers  map[string]*Worker
	sessions map[string]Session
	rrCursor map[string]int // round-robin position per api_type
	offline  map[string]int // evicted/disconnected counts per api_type
	stranded map[string]*strandedTask

	onEvict    EvictionHandler
	notifyIdle func() // pokes the assignment loop when capacity appears
	publisher  events.Publisher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg *config.WorkerConfig, st store.Store) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    st,
		workers:  make(map[string]*Worker),
		sessions: make(map[string]Session),
		rrCursor: make(map[string]int),
		offline:  make(map[string]int),
		stranded: make(map[string]*strandedTask),
		stopCh:   make(chan struct{}),
	}
}

// SetEvictionHandler wires the queue's failure path. Must be called before Run.
func (r *Registry) SetEvictionHandler(h EvictionHandler) {
	r.onEvict = h
}

// SetIdleNotifier wires the assignment loop's wakeup signal.
func (r *Registry) SetIdleNotifier(fn func()) {
	r.notifyIdle = fn
}

// SetPublisher wires the lifecycle event sink.
func (r *Registry) SetPublisher(pub events.Publisher) {
	r.publisher = pub
}

// Authenticate validates the first frame of a new session. On success it
// creates the Worker record and retains the session for dispatch.
func (r *Registry) Authenticate(ctx context.Context, apiType, token string, metadata map[string]string, sess Session) (*Worker, error) {
	tokens := r.cfg.Tokens(apiType)
	if tokens == nil {
		return nil, ErrUnknownAPIType
	}

	valid := false
	for _, t := range tokens {
		if t != "" && t == token {
			valid = true
			break
		}
	}
	if !valid {
		metrics.RecordAuthFailure()
		return nil, ErrAuthFailed
	}

	now := time.Now().UTC()
	w := &Worker{
		ID:            fmt.Sprintf("worker-%s", uuid.New().String()),
		APIType:       apiType,
		Status:        StatusIdle,
		Metadata:      metadata,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}

	r.mu.Lock()
	r.workers[w.ID] = w
	r.sessions[w.ID] = sess
	r.mu.Unlock()

	r.persist(ctx, w)
	if err := r.store.SAdd(ctx, store.WorkerSetKey(apiType), w.ID); err != nil {
		logger.Error().Err(err).Str("worker_id", w.ID).Msg("failed to index worker")
	}

	if prior := metadata["in_progress_task"]; prior != "" {
		logger.WithWorker(w.ID).Info().
			Str("task_id", prior).
			Msg("reconnected worker advertises in-progress task")
	}

	metrics.RecordSessionOpened(apiType)
	r.updateGauges(apiType)
	r.publishWorkerEvent(ctx, events.WorkerConnected, w.ID, apiType)
	r.signalIdle()

	logger.WithWorker(w.ID).Info().
		Str("api_type", apiType).
		Msg("worker authenticated")

	return w.Clone(), nil
}

// Heartbeat records liveness for a worker. last_heartbeat never moves
// backwards.
func (r *Registry) Heartbeat(ctx context.Context, workerID string) (*Worker, error) {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrWorkerNotFound
	}
	now := time.Now().UTC()
	if now.After(w.LastHeartbeat) {
		w.LastHeartbeat = now
	}
	snapshot := w.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot, nil
}

// MarkWorking transitions a worker to working on the given task.
func (r *Registry) MarkWorking(ctx context.Context, workerID, taskID string) error {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return ErrWorkerNotFound
	}
	w.Status = StatusWorking
	w.CurrentTaskID = taskID
	snapshot := w.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.updateGauges(snapshot.APIType)
	return nil
}

// MarkIdle releases a worker back to the idle pool and pokes the assignment
// loop.
func (r *Registry) MarkIdle(ctx context.Context, workerID string) error {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return ErrWorkerNotFound
	}
	w.Status = StatusIdle
	w.CurrentTaskID = ""
	snapshot := w.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.updateGauges(snapshot.APIType)
	r.signalIdle()
	return nil
}

// Disconnect removes a worker after its session closed. An in-flight task is
// not failed immediately: the connection drop may be transient and the agent
// may reconnect with the outcome, so the assignment is held for a grace
// window of the working timeout before the retry path runs.
func (r *Registry) Disconnect(ctx context.Context, workerID, reason string) {
	r.disconnect(ctx, workerID, reason, true)
}

func (r *Registry) disconnect(ctx context.Context, workerID, reason string, grace bool) {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.workers, workerID)
	delete(r.sessions, workerID)
	w.Status = StatusOffline
	r.offline[w.APIType]++
	snapshot := w.Clone()
	if grace && snapshot.CurrentTaskID != "" {
		r.stranded[snapshot.CurrentTaskID] = &strandedTask{
			workerID: workerID,
			apiType:  snapshot.APIType,
			reason:   reason,
			deadline: time.Now().UTC().Add(r.cfg.WorkingTimeout()),
		}
	}
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if err := r.store.SRem(ctx, store.WorkerSetKey(snapshot.APIType), workerID); err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to unindex worker")
	}

	metrics.RecordSessionClosed(snapshot.APIType)
	r.updateGauges(snapshot.APIType)
	r.publishWorkerEvent(ctx, events.WorkerOffline, workerID, snapshot.APIType)

	logger.WithWorker(workerID).Info().
		Str("api_type", snapshot.APIType).
		Str("reason", reason).
		Msg("worker disconnected")

	if snapshot.CurrentTaskID == "" || r.onEvict == nil {
		return
	}
	if grace {
		logger.WithTask(snapshot.CurrentTaskID).Warn().
			Str("worker_id", workerID).
			Dur("grace", r.cfg.WorkingTimeout()).
			Msg("worker disconnected mid-task, holding assignment")
		return
	}
	r.onEvict(workerID, snapshot.APIType, snapshot.CurrentTaskID, reason)
}

// ResolveStranded drops the grace-window entry for a task whose outcome
// arrived, typically flushed by a reconnected worker.
func (r *Registry) ResolveStranded(taskID string) {
	r.mu.Lock()
	delete(r.stranded, taskID)
	r.mu.Unlock()
}

// Get returns a snapshot of one worker.
func (r *Registry) Get(workerID string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// GetByType returns snapshots of all connected workers of an api_type.
func (r *Registry) GetByType(apiType string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Worker
	for _, w := range r.workers {
		if w.APIType == apiType {
			out = append(out, w.Clone())
		}
	}
	return out
}

// All returns snapshots of every connected worker.
func (r *Registry) All() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Clone())
	}
	return out
}

// GetIdle returns idle workers of an api_type.
func (r *Registry) GetIdle(apiType string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Worker
	for _, w := range r.workers {
		if w.APIType == apiType && w.Status == StatusIdle {
			out = append(out, w.Clone())
		}
	}
	return out
}

// NextIdle picks an idle worker round-robin over the idle set of the
// api_type, snapshotted at call time. targetWorkerID narrows the choice to a
// pinned worker.
func (r *Registry) NextIdle(apiType, targetWorkerID string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []*Worker
	for _, w := range r.workers {
		if w.APIType != apiType || w.Status != StatusIdle {
			continue
		}
		if targetWorkerID != "" && w.ID != targetWorkerID {
			continue
		}
		idle = append(idle, w)
	}
	if len(idle) == 0 {
		return nil, false
	}

	cursor := r.rrCursor[apiType] % len(idle)
	r.rrCursor[apiType] = cursor + 1
	return idle[cursor].Clone(), true
}

// Stats summarizes the fleet for one api_type.
func (r *Registry) Stats(apiType string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Offline: r.offline[apiType]}
	for _, w := range r.workers {
		if w.APIType != apiType {
			continue
		}
		s.Total++
		switch w.Status {
		case StatusIdle:
			s.Idle++
		case StatusWorking:
			s.Working++
		}
	}
	return s
}

// Session returns the send surface for a worker.
func (r *Registry) Session(workerID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[workerID]
	return sess, ok
}

// Run starts the heartbeat monitor. It wakes on the heartbeat interval and
// evicts workers whose last heartbeat is older than the threshold for their
// state: idle workers get the base timeout, working workers three times that
// so a long blocking scrape call does not lose the task.
func (r *Registry) Run(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.evictStale(ctx)
			}
		}
	}()

	logger.WithComponent("registry").Info().
		Dur("interval", r.cfg.HeartbeatInterval).
		Dur("idle_timeout", r.cfg.Timeout).
		Dur("working_timeout", r.cfg.WorkingTimeout()).
		Msg("heartbeat monitor started")
}

// Stop halts the monitor and closes all sessions with a goodbye frame.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Send(protocol.Goodbye())
		sess.Close()
	}

	logger.WithComponent("registry").Info().Msg("heartbeat monitor stopped")
}

func (r *Registry) evictStale(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.RLock()
	var stale []*Worker
	for _, w := range r.workers {
		threshold := r.cfg.Timeout
		if w.Status == StatusWorking {
			threshold = r.cfg.WorkingTimeout()
		}
		if now.Sub(w.LastHeartbeat) > threshold {
			stale = append(stale, w.Clone())
		}
	}
	r.mu.RUnlock()

	for _, w := range stale {
		logger.WithWorker(w.ID).Warn().
			Str("api_type", w.APIType).
			Time("last_heartbeat", w.LastHeartbeat).
			Str("status", string(w.Status)).
			Msg("worker timed out, evicting")

		metrics.RecordWorkerEviction(w.APIType)

		if sess, ok := r.Session(w.ID); ok {
			sess.Close()
		}
		// A worker that fell silent for the full working timeout has used up
		// its grace already; its task takes the failure path now.
		r.disconnect(ctx, w.ID, "worker timed out", false)
	}

	r.expireStranded(now)
}

// expireStranded fails stranded tasks whose grace window ran out without the
// worker reconnecting to deliver an outcome.
func (r *Registry) expireStranded(now time.Time) {
	r.mu.Lock()
	expired := make(map[string]*strandedTask)
	for taskID, s := range r.stranded {
		if now.After(s.deadline) {
			expired[taskID] = s
			delete(r.stranded, taskID)
		}
	}
	r.mu.Unlock()

	for taskID, s := range expired {
		logger.WithTask(taskID).Warn().
			Str("worker_id", s.workerID).
			Msg("grace window expired, releasing stranded task")
		if r.onEvict != nil {
			r.onEvict(s.workerID, s.apiType, taskID, s.reason)
		}
	}
}

func (r *Registry) persist(ctx context.Context, w *Worker) {
	data, err := w.ToJSON()
	if err != nil {
		logger.Error().Err(err).Str("worker_id", w.ID).Msg("failed to marshal worker")
		return
	}
	if err := r.store.Set(ctx, store.WorkerKey(w.ID), data, 2*r.cfg.Timeout); err != nil {
		logger.Error().Err(err).Str("worker_id", w.ID).Msg("failed to persist worker")
	}
}

func (r *Registry) updateGauges(apiType string) {
	s := r.Stats(apiType)
	metrics.SetConnectedWorkers(apiType, string(StatusIdle), float64(s.Idle))
	metrics.SetConnectedWorkers(apiType, string(StatusWorking), float64(s.Working))
}

func (r *Registry) signalIdle() {
	if r.notifyIdle != nil {
		r.notifyIdle()
	}
}

func (r *Registry) publishWorkerEvent(ctx context.Context, eventType events.EventType, workerID, apiType string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, events.NewWorkerEvent(eventType, workerID, apiType)); err != nil {
		logger.Debug().Err(err).Str("event", string(eventType)).Msg("failed to publish event")
	}
}
