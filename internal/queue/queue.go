// Package queue owns Task records: per-api_type priority queues, status
// transitions, the retry path, and cancellation. Pending tasks live in a
// sorted set scored by negated priority so the highest priority pops first;
// a monotonic sequence number in the fractional digits keeps FIFO order
// within a priority level.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/events"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/metrics"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/store"
	"github.com/scrapeflow/orchestrator/internal/task"
)

// seqScale pushes the FIFO sequence into the fractional digits of the score,
// below any integer priority.
const seqScale = 1e-9

// TerminalHook observes tasks reaching a terminal state. The enrichment
// manager uses it to fire completion callbacks.
type TerminalHook func(t *task.Task)

// Queue accepts submissions, orders pending work, and applies every task
// status transition. All queue mutations are serialized through q.mu.
type Queue struct {
	cfg      *config.TaskConfig
	store    store.Store
	registry *registry.Registry
	events   events.Publisher

	mu         sync.Mutex
	wake       chan struct{}
	onTerminal TerminalHook
}

func New(cfg *config.TaskConfig, st store.Store, reg *registry.Registry, pub events.Publisher) *Queue {
	return &Queue{
		cfg:      cfg,
		store:    st,
		registry: reg,
		events:   pub,
		wake:     make(chan struct{}, 1),
	}
}

// SetTerminalHook registers the terminal-state observer. Must be set before
// traffic flows.
func (q *Queue) SetTerminalHook(h TerminalHook) {
	q.onTerminal = h
}

// Signal wakes the assignment loop. Non-blocking; a pending wakeup absorbs
// further signals.
func (q *Queue) Signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wakeup is the assignment loop's wait channel.
func (q *Queue) Wakeup() <-chan struct{} {
	return q.wake
}

// Enqueue creates a Task from a submission, stores it, and inserts it into
// the priority queue for its api_type.
func (q *Queue) Enqueue(ctx context.Context, req *task.SubmitRequest) (*task.Task, error) {
	t := task.FromRequest(req)
	if req.MaxRetries == nil && q.cfg.RetryLimit > 0 {
		t.MaxRetries = q.cfg.RetryLimit
	}

	if err := q.insert(ctx, t); err != nil {
		return nil, err
	}

	metrics.RecordTaskSubmission(t.APIType, t.Action, string(t.Source))
	q.publish(ctx, events.TaskSubmitted, t)

	logger.WithTask(t.ID).Info().
		Str("api_type", t.APIType).
		Str("action", t.Action).
		Int("priority", t.Priority).
		Str("source", string(t.Source)).
		Msg("task enqueued")

	q.Signal()
	return t, nil
}

// insert stores the record and adds it to the pending queue.
func (q *Queue) insert(ctx context.Context, t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.persist(ctx, t); err != nil {
		return err
	}

	seq, err := q.store.Incr(ctx, store.QueueSeqKey(t.APIType))
	if err != nil {
		return fmt.Errorf("failed to allocate queue sequence: %w", err)
	}
	score := float64(-t.Priority) + float64(seq)*seqScale

	if err := q.store.ZAdd(ctx, store.QueueKey(t.APIType), t.ID, score); err != nil {
		return fmt.Errorf("failed to queue task: %w", err)
	}

	q.refreshDepth(ctx, t.APIType)
	return nil
}

// AssignNext pops the highest-priority pending task for an api_type and
// matches it to an idle worker. When no worker is available the task is
// re-inserted at its popped score, preserving its place in line.
func (q *Queue) AssignNext(ctx context.Context, apiType string) (*task.Task, *registry.Worker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		member, err := q.store.ZPopMin(ctx, store.QueueKey(apiType))
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}

		t, err := q.get(ctx, member.Value)
		if err != nil {
			// Stale queue entry for an expired or deleted task.
			logger.Warn().Str("task_id", member.Value).Msg("dropping stale queue entry")
			q.refreshDepth(ctx, apiType)
			continue
		}
		if t.Status != task.StatusPending {
			logger.WithTask(t.ID).Warn().
				Str("status", t.Status.String()).
				Msg("dropping non-pending task from queue")
			q.refreshDepth(ctx, apiType)
			continue
		}

		w, ok := q.registry.NextIdle(apiType, t.TargetWorkerID)
		if !ok {
			q.requeueAt(ctx, t, member.Score)
			return nil, nil, nil
		}

		if err := t.Assign(w.ID); err != nil {
			q.requeueAt(ctx, t, member.Score)
			return nil, nil, err
		}
		if err := q.persist(ctx, t); err != nil {
			// Store still holds the pending record; put the queue entry back.
			q.requeueAt(ctx, t, member.Score)
			return nil, nil, err
		}
		if err := q.registry.MarkWorking(ctx, w.ID, t.ID); err != nil {
			logger.WithTask(t.ID).Error().Err(err).Msg("failed to mark worker working")
		}

		metrics.RecordTaskAssignment(apiType)
		q.refreshDepth(ctx, apiType)
		q.publish(ctx, events.TaskAssigned, t)

		return t, w, nil
	}
}

// HandleRunning processes a worker's running frame.
func (q *Queue) HandleRunning(ctx context.Context, taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.get(ctx, taskID)
	if err != nil {
		logger.Warn().Str("task_id", taskID).Msg("running frame for unknown task")
		return
	}
	if t.Status != task.StatusAssigned {
		logger.WithTask(taskID).Warn().
			Str("status", t.Status.String()).
			Msg("running frame in unexpected status")
		return
	}

	if err := t.Transition(task.StatusRunning); err != nil {
		logger.WithTask(taskID).Error().Err(err).Msg("failed to mark task running")
		return
	}
	if err := q.persist(ctx, t); err != nil {
		logger.WithTask(taskID).Error().Err(err).Msg("failed to persist running task")
	}
}

// HandleComplete processes a worker's complete frame. A task already driven
// to a terminal state by the timeout path wins; the late frame is discarded.
// The frame may arrive from a different worker than the one the task was
// assigned to when an agent reconnected mid-task; the sender is released
// either way.
func (q *Queue) HandleComplete(ctx context.Context, taskID, workerID string, result map[string]interface{}) {
	defer q.releaseWorker(ctx, workerID)
	q.registry.ResolveStranded(taskID)

	q.mu.Lock()
	t, err := q.get(ctx, taskID)
	if err != nil {
		q.mu.Unlock()
		logger.Warn().Str("task_id", taskID).Msg("complete frame for unknown task")
		return
	}
	if t.Status.IsTerminal() {
		q.mu.Unlock()
		logger.WithTask(taskID).Warn().
			Str("status", t.Status.String()).
			Msg("discarding late complete frame")
		return
	}

	if err := t.Complete(result); err != nil {
		q.mu.Unlock()
		logger.WithTask(taskID).Error().Err(err).Msg("failed to complete task")
		return
	}
	q.persistTerminal(ctx, t)
	q.mu.Unlock()

	metrics.RecordTaskTerminal(t.APIType, t.Status.String(), t.Duration().Seconds())
	q.publish(ctx, events.TaskCompleted, t)
	q.fireTerminal(t)

	logger.WithTask(taskID).Info().
		Str("api_type", t.APIType).
		Int("retry_count", t.RetryCount).
		Msg("task completed")
}

// HandleError processes a worker's error frame via the retry path.
func (q *Queue) HandleError(ctx context.Context, taskID, workerID, errMsg string) {
	q.failTask(ctx, taskID, errMsg, "worker_error")
	q.releaseWorker(ctx, workerID)
}

// HandleDispatchFailure runs the retry path after a task frame could not be
// sent. The worker is released; its session handler decides its fate.
func (q *Queue) HandleDispatchFailure(ctx context.Context, t *task.Task, workerID string) {
	metrics.RecordDispatchFailure(t.APIType)
	q.failTask(ctx, t.ID, "dispatch send failed", "dispatch")
	q.releaseWorker(ctx, workerID)
}

// HandleWorkerEviction is the registry's eviction callback: the worker is
// gone, its current task takes the retry path.
func (q *Queue) HandleWorkerEviction(workerID, apiType, taskID, reason string) {
	ctx := context.Background()
	logger.WithWorker(workerID).Warn().
		Str("task_id", taskID).
		Str("reason", reason).
		Msg("releasing task from evicted worker")
	q.failTask(ctx, taskID, reason, "worker_timeout")
}

// failTask applies one failure to a task: retry while budget remains,
// terminal failed otherwise. First writer wins against concurrent terminal
// transitions.
func (q *Queue) failTask(ctx context.Context, taskID, errMsg, reason string) {
	q.registry.ResolveStranded(taskID)

	q.mu.Lock()
	t, err := q.get(ctx, taskID)
	if err != nil {
		q.mu.Unlock()
		logger.Warn().Str("task_id", taskID).Msg("failure for unknown task")
		return
	}
	if t.Status.IsTerminal() {
		q.mu.Unlock()
		logger.WithTask(taskID).Warn().
			Str("status", t.Status.String()).
			Msg("discarding failure for terminal task")
		return
	}

	if t.CanRetry() {
		t.RetryCount++
		if err := t.Release(); err != nil {
			q.mu.Unlock()
			logger.WithTask(taskID).Error().Err(err).Msg("failed to release task")
			return
		}
		t.Error = errMsg
		q.mu.Unlock()

		// Back through insert for a fresh sequence at the same priority.
		if err := q.insert(ctx, t); err != nil {
			logger.WithTask(taskID).Error().Err(err).Msg("failed to re-enqueue task")
			return
		}

		metrics.RecordTaskRetry(t.APIType, reason)
		q.publish(ctx, events.TaskRetrying, t)
		q.Signal()

		logger.WithTask(taskID).Info().
			Int("retry_count", t.RetryCount).
			Int("max_retries", t.MaxRetries).
			Str("error", errMsg).
			Msg("task re-enqueued for retry")
		return
	}

	if err := t.Fail(errMsg); err != nil {
		q.mu.Unlock()
		logger.WithTask(taskID).Error().Err(err).Msg("failed to fail task")
		return
	}
	q.persistTerminal(ctx, t)
	q.mu.Unlock()

	metrics.RecordTaskTerminal(t.APIType, t.Status.String(), t.Duration().Seconds())
	q.publish(ctx, events.TaskFailed, t)
	q.fireTerminal(t)

	logger.WithTask(taskID).Error().
		Str("error", errMsg).
		Int("retry_count", t.RetryCount).
		Msg("task failed, retry budget exhausted")
}

// Cancel cancels a pending or assigned task. Cancelling an already-cancelled
// task reports success; running and other terminal tasks report false.
func (q *Queue) Cancel(ctx context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	t, err := q.get(ctx, taskID)
	if err != nil {
		q.mu.Unlock()
		return false, err
	}

	if t.Status == task.StatusCancelled {
		q.mu.Unlock()
		return true, nil
	}

	wasAssigned := t.Status == task.StatusAssigned
	workerID := t.AssignedWorkerID

	if err := t.Cancel(); err != nil {
		q.mu.Unlock()
		if errors.Is(err, task.ErrNotCancellable) {
			return false, nil
		}
		return false, err
	}

	if err := q.store.ZRem(ctx, store.QueueKey(t.APIType), t.ID); err != nil {
		logger.WithTask(taskID).Error().Err(err).Msg("failed to remove cancelled task from queue")
	}
	q.persistTerminal(ctx, t)
	q.refreshDepth(ctx, t.APIType)
	q.mu.Unlock()

	q.registry.ResolveStranded(taskID)

	if wasAssigned && workerID != "" {
		if sess, ok := q.registry.Session(workerID); ok {
			if err := sess.Send(protocol.Cancel(t.ID)); err != nil {
				logger.WithWorker(workerID).Warn().Err(err).Msg("failed to send cancel frame")
			}
		}
		q.releaseWorker(ctx, workerID)
	}

	metrics.RecordTaskTerminal(t.APIType, t.Status.String(), 0)
	q.publish(ctx, events.TaskCancelled, t)
	q.fireTerminal(t)

	logger.WithTask(taskID).Info().Msg("task cancelled")
	return true, nil
}

// CancelPending cancels every pending task of an api_type and returns the
// count.
func (q *Queue) CancelPending(ctx context.Context, apiType string) (int, error) {
	members, err := q.store.ZRange(ctx, store.QueueKey(apiType))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range members {
		ok, err := q.Cancel(ctx, m.Value)
		if err != nil || !ok {
			continue
		}
		count++
	}
	return count, nil
}

// Get returns a task by id.
func (q *Queue) Get(ctx context.Context, taskID string) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.get(ctx, taskID)
}

// PendingCount returns the queue depth for an api_type.
func (q *Queue) PendingCount(ctx context.Context, apiType string) (int64, error) {
	return q.store.ZCard(ctx, store.QueueKey(apiType))
}

// TypeStats is the per-api_type view returned by GET /queue/stats.
type TypeStats struct {
	Pending        int64 `json:"pending"`
	TotalWorkers   int   `json:"total_workers"`
	IdleWorkers    int   `json:"idle_workers"`
	WorkingWorkers int   `json:"working_workers"`
}

// Stats summarizes queues and fleet for the given api_types.
func (q *Queue) Stats(ctx context.Context, apiTypes []string) map[string]TypeStats {
	out := make(map[string]TypeStats, len(apiTypes))
	for _, apiType := range apiTypes {
		pending, err := q.PendingCount(ctx, apiType)
		if err != nil {
			logger.Error().Err(err).Str("api_type", apiType).Msg("failed to read queue depth")
		}
		ws := q.registry.Stats(apiType)
		out[apiType] = TypeStats{
			Pending:        pending,
			TotalWorkers:   ws.Total,
			IdleWorkers:    ws.Idle,
			WorkingWorkers: ws.Working,
		}
	}
	return out
}

func (q *Queue) get(ctx context.Context, taskID string) (*task.Task, error) {
	data, err := q.store.Get(ctx, store.TaskKey(taskID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.FromJSON(data)
}

func (q *Queue) persist(ctx context.Context, t *task.Task) error {
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return q.store.Set(ctx, store.TaskKey(t.ID), data, 2*q.cfg.Timeout)
}

// persistTerminal writes a terminal record with the bounded retention TTL so
// submitters can poll results for a while.
func (q *Queue) persistTerminal(ctx context.Context, t *task.Task) {
	data, err := t.ToJSON()
	if err != nil {
		logger.WithTask(t.ID).Error().Err(err).Msg("failed to marshal terminal task")
		return
	}
	if err := q.store.Set(ctx, store.TaskKey(t.ID), data, q.cfg.TerminalTTL); err != nil {
		logger.WithTask(t.ID).Error().Err(err).Msg("failed to persist terminal task")
	}
}

// requeueAt puts a popped task back into its queue at the original score,
// preserving its place in line.
func (q *Queue) requeueAt(ctx context.Context, t *task.Task, score float64) {
	if err := q.store.ZAdd(ctx, store.QueueKey(t.APIType), t.ID, score); err != nil {
		logger.WithTask(t.ID).Error().Err(err).Msg("failed to re-insert task")
	}
}

// releaseWorker returns a worker to the idle pool. Workers that already
// disconnected are not an error.
func (q *Queue) releaseWorker(ctx context.Context, workerID string) {
	if workerID == "" {
		return
	}
	if err := q.registry.MarkIdle(ctx, workerID); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
		logger.WithWorker(workerID).Error().Err(err).Msg("failed to release worker")
	}
}

func (q *Queue) refreshDepth(ctx context.Context, apiType string) {
	depth, err := q.store.ZCard(ctx, store.QueueKey(apiType))
	if err != nil {
		return
	}
	metrics.SetQueueDepth(apiType, float64(depth))
}

func (q *Queue) publish(ctx context.Context, eventType events.EventType, t *task.Task) {
	if q.events == nil {
		return
	}
	if err := q.events.Publish(ctx, events.NewTaskEvent(eventType, t.ID, t.APIType, t.Status.String())); err != nil {
		logger.Debug().Err(err).Str("event", string(eventType)).Msg("failed to publish event")
	}
}

func (q *Queue) fireTerminal(t *task.Task) {
	if q.onTerminal != nil {
		q.onTerminal(t)
	}
}
