package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/store"
	"github.com/scrapeflow/orchestrator/internal/task"
)

type fakeSession struct {
	mu     sync.Mutex
	frames []*protocol.Frame
}

func (f *fakeSession) Send(frame *protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSession) Close() {}

func (f *fakeSession) sent() []*protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Frame(nil), f.frames...)
}

type fixture struct {
	queue    *Queue
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	reg := registry.New(&config.WorkerConfig{
		HeartbeatInterval: time.Second,
		Timeout:           time.Minute,
		TokensCrunchbase:  []string{"cb-token"},
		TokensTracxn:      []string{"tx-token"},
		TokensSocial:      []string{"so-token"},
	}, st)

	q := New(&config.TaskConfig{
		Timeout:     time.Minute,
		RetryLimit:  3,
		TerminalTTL: time.Hour,
	}, st, reg, nil)
	reg.SetEvictionHandler(q.HandleWorkerEviction)

	return &fixture{queue: q, registry: reg}
}

func (f *fixture) connectWorker(t *testing.T, apiType, token string) (*registry.Worker, *fakeSession) {
	t.Helper()
	sess := &fakeSession{}
	w, err := f.registry.Authenticate(context.Background(), apiType, token, nil, sess)
	require.NoError(t, err)
	return w, sess
}

func maxRetries(n int) *int {
	return &n
}

func submit(t *testing.T, q *Queue, apiType string, priority int) *task.Task {
	t.Helper()
	tk, err := q.Enqueue(context.Background(), &task.SubmitRequest{
		APIType:  apiType,
		Action:   "scrape",
		Priority: priority,
	})
	require.NoError(t, err)
	return tk
}

func TestQueue_Enqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 5)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, 3, tk.MaxRetries)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
}

func TestQueue_AssignNext_NoWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)

	got, w, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, w)

	// The task kept its place in line.
	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	stored, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, stored.Status)
}

func TestQueue_AssignNext_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	f.connectWorker(t, "crunchbase", "cb-token")

	got, w, err := f.queue.AssignNext(context.Background(), "crunchbase")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, w)
}

func TestQueue_AssignNext_PriorityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := submit(t, f.queue, "crunchbase", -10)
	normal := submit(t, f.queue, "crunchbase", 0)
	high := submit(t, f.queue, "crunchbase", 10)

	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")

	var order []string
	for i := 0; i < 3; i++ {
		tk, w, err := f.queue.AssignNext(ctx, "crunchbase")
		require.NoError(t, err)
		require.NotNil(t, tk)
		assert.Equal(t, worker.ID, w.ID)
		order = append(order, tk.ID)
		require.NoError(t, f.registry.MarkIdle(ctx, w.ID))
	}

	assert.Equal(t, []string{high.ID, normal.ID, low.ID}, order)
}

func TestQueue_AssignNext_FIFOWithinPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := submit(t, f.queue, "tracxn", 5)
	second := submit(t, f.queue, "tracxn", 5)
	third := submit(t, f.queue, "tracxn", 5)

	_, _ = f.connectWorker(t, "tracxn", "tx-token")

	var order []string
	for i := 0; i < 3; i++ {
		tk, w, err := f.queue.AssignNext(ctx, "tracxn")
		require.NoError(t, err)
		require.NotNil(t, tk)
		order = append(order, tk.ID)
		require.NoError(t, f.registry.MarkIdle(ctx, w.ID))
	}

	assert.Equal(t, []string{first.ID, second.ID, third.ID}, order)
}

func TestQueue_AssignNext_MarksWorkerWorking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")

	assigned, w, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, task.StatusAssigned, assigned.Status)
	assert.Equal(t, worker.ID, assigned.AssignedWorkerID)
	assert.Equal(t, worker.ID, w.ID)

	got, ok := f.registry.Get(worker.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusWorking, got.Status)
	assert.Equal(t, tk.ID, got.CurrentTaskID)

	// Only one task per worker.
	next, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueue_AssignNext_TargetWorkerPinning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.connectWorker(t, "crunchbase", "cb-token")
	w2, _ := f.connectWorker(t, "crunchbase", "cb-token")
	require.NoError(t, f.registry.MarkWorking(ctx, w2.ID, "other-task"))

	_, err := f.queue.Enqueue(ctx, &task.SubmitRequest{
		APIType:        "crunchbase",
		Action:         "scrape",
		TargetWorkerID: w2.ID,
	})
	require.NoError(t, err)

	// w1 is idle but the task is pinned to busy w2.
	got, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, f.registry.MarkIdle(ctx, w2.ID))
	got, w, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w2.ID, w.ID)
}

func TestQueue_HandleRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	f.connectWorker(t, "crunchbase", "cb-token")
	_, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)

	f.queue.HandleRunning(ctx, tk.ID)

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	// A second running frame is a no-op.
	f.queue.HandleRunning(ctx, tk.ID)
	again, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, again.Status)
}

func TestQueue_HandleComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")
	_, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	f.queue.HandleRunning(ctx, tk.ID)

	f.queue.HandleComplete(ctx, tk.ID, worker.ID, map[string]interface{}{"count": 7.0})

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 7.0, got.Result["count"])

	w, ok := f.registry.Get(worker.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusIdle, w.Status)
}

func TestQueue_HandleComplete_FirstWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")
	_, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)

	// Eviction settles the task first (retry budget exhausted for clarity).
	stored, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	stored.RetryCount = stored.MaxRetries
	data, err := stored.ToJSON()
	require.NoError(t, err)
	require.NoError(t, f.queue.store.Set(ctx, store.TaskKey(tk.ID), data, time.Minute))

	f.queue.HandleError(ctx, tk.ID, worker.ID, "worker timed out")

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)

	// The late complete frame loses.
	f.queue.HandleComplete(ctx, tk.ID, worker.ID, map[string]interface{}{"count": 1.0})

	got, err = f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Nil(t, got.Result)
}

func TestQueue_RetryPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, err := f.queue.Enqueue(ctx, &task.SubmitRequest{
		APIType:    "crunchbase",
		Action:     "scrape",
		Priority:   5,
		MaxRetries: maxRetries(2),
	})
	require.NoError(t, err)

	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")

	// Attempts 1 and 2 fail and re-enqueue at the original priority.
	for attempt := 1; attempt <= 2; attempt++ {
		assigned, _, err := f.queue.AssignNext(ctx, "crunchbase")
		require.NoError(t, err)
		require.NotNil(t, assigned, "attempt %d should assign", attempt)

		f.queue.HandleError(ctx, tk.ID, worker.ID, "scrape blew up")

		got, err := f.queue.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Equal(t, 5, got.Priority)
		assert.Empty(t, got.AssignedWorkerID)

		w, ok := f.registry.Get(worker.ID)
		require.True(t, ok)
		assert.Equal(t, registry.StatusIdle, w.Status)
	}

	// The final attempt exhausts the budget.
	assigned, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	require.NotNil(t, assigned)

	f.queue.HandleError(ctx, tk.ID, worker.ID, "scrape blew up")

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "scrape blew up", got.Error)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_DisconnectHoldsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "social", 0)
	worker, _ := f.connectWorker(t, "social", "so-token")
	_, _, err := f.queue.AssignNext(ctx, "social")
	require.NoError(t, err)

	// A dropped connection does not fail the task; the assignment is held
	// for the grace window in case the worker reconnects with the outcome.
	f.registry.Disconnect(ctx, worker.ID, "connection closed")

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAssigned, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	depth, err := f.queue.PendingCount(ctx, "social")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_ReconnectDeliversResultAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")
	_, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	f.queue.HandleRunning(ctx, tk.ID)

	f.registry.Disconnect(ctx, worker.ID, "connection closed")

	// The agent reconnects under a fresh identity and flushes the parked
	// complete frame. The original result must land.
	reconnected, _ := f.connectWorker(t, "crunchbase", "cb-token")
	f.queue.HandleComplete(ctx, tk.ID, reconnected.ID, map[string]interface{}{"count": 12.0})

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 12.0, got.Result["count"])
}

func TestQueue_GraceExpiryRunsRetryPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "social", 0)
	worker, _ := f.connectWorker(t, "social", "so-token")
	_, _, err := f.queue.AssignNext(ctx, "social")
	require.NoError(t, err)

	f.registry.Disconnect(ctx, worker.ID, "connection closed")

	// The worker never came back; the registry hands the task over once the
	// grace window runs out.
	f.queue.HandleWorkerEviction(worker.ID, "social", tk.ID, "connection closed")

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	depth, err := f.queue.PendingCount(ctx, "social")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueue_LateCompleteReleasesSendingWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	f.connectWorker(t, "crunchbase", "cb-token")
	_, w, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)

	_, err = f.queue.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	require.NoError(t, f.registry.MarkWorking(ctx, w.ID, tk.ID))

	// The cancel settled the task; the racing complete frame is discarded
	// but its sender must still come back to the idle pool.
	f.queue.HandleComplete(ctx, tk.ID, w.ID, map[string]interface{}{"count": 1.0})

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)

	ws, ok := f.registry.Get(w.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusIdle, ws.Status)
}

// flakyStore lets a test fail writes on demand.
type flakyStore struct {
	store.Store
	failSet bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.failSet {
		return errors.New("store down")
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func TestQueue_AssignNext_PersistFailureKeepsTaskQueued(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: store.NewMemory()}
	reg := registry.New(&config.WorkerConfig{
		Timeout:          time.Minute,
		TokensCrunchbase: []string{"cb-token"},
	}, st)
	q := New(&config.TaskConfig{Timeout: time.Minute, RetryLimit: 3, TerminalTTL: time.Hour}, st, reg, nil)

	tk, err := q.Enqueue(ctx, &task.SubmitRequest{APIType: "crunchbase", Action: "scrape"})
	require.NoError(t, err)
	_, err = reg.Authenticate(ctx, "crunchbase", "cb-token", nil, &fakeSession{})
	require.NoError(t, err)

	st.failSet = true
	_, _, err = q.AssignNext(ctx, "crunchbase")
	require.Error(t, err)
	st.failSet = false

	// The popped entry went back into the queue instead of stranding.
	depth, err := q.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)

	// And the next attempt succeeds.
	assigned, _, err := q.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	require.NotNil(t, assigned)
	assert.Equal(t, tk.ID, assigned.ID)
}

func TestQueue_HandleDispatchFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")

	assigned, w, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)
	require.NotNil(t, assigned)

	f.queue.HandleDispatchFailure(ctx, assigned, w.ID)

	got, err := f.queue.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	ws, ok := f.registry.Get(worker.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusIdle, ws.Status)
}

func TestQueue_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending task", func(t *testing.T) {
		f := newFixture(t)
		tk := submit(t, f.queue, "crunchbase", 0)

		cancelled, err := f.queue.Cancel(ctx, tk.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		got, err := f.queue.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCancelled, got.Status)

		depth, err := f.queue.PendingCount(ctx, "crunchbase")
		require.NoError(t, err)
		assert.Equal(t, int64(0), depth)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		tk := submit(t, f.queue, "crunchbase", 0)

		_, err := f.queue.Cancel(ctx, tk.ID)
		require.NoError(t, err)
		cancelled, err := f.queue.Cancel(ctx, tk.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("assigned task notifies the worker", func(t *testing.T) {
		f := newFixture(t)
		tk := submit(t, f.queue, "crunchbase", 0)
		worker, sess := f.connectWorker(t, "crunchbase", "cb-token")
		_, _, err := f.queue.AssignNext(ctx, "crunchbase")
		require.NoError(t, err)

		cancelled, err := f.queue.Cancel(ctx, tk.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		frames := sess.sent()
		require.NotEmpty(t, frames)
		last := frames[len(frames)-1]
		assert.Equal(t, protocol.TypeCancel, last.Type)
		assert.Equal(t, tk.ID, last.TaskID)

		w, ok := f.registry.Get(worker.ID)
		require.True(t, ok)
		assert.Equal(t, registry.StatusIdle, w.Status)
	})

	t.Run("running task is not cancellable", func(t *testing.T) {
		f := newFixture(t)
		tk := submit(t, f.queue, "crunchbase", 0)
		f.connectWorker(t, "crunchbase", "cb-token")
		_, _, err := f.queue.AssignNext(ctx, "crunchbase")
		require.NoError(t, err)
		f.queue.HandleRunning(ctx, tk.ID)

		cancelled, err := f.queue.Cancel(ctx, tk.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.queue.Cancel(ctx, "no-such-task")
		assert.ErrorIs(t, err, task.ErrTaskNotFound)
	})
}

func TestQueue_CancelPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submit(t, f.queue, "crunchbase", 0)
	submit(t, f.queue, "crunchbase", 5)
	other := submit(t, f.queue, "tracxn", 0)

	count, err := f.queue.CancelPending(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	depth, err := f.queue.PendingCount(ctx, "crunchbase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	// Other api_types are untouched.
	got, err := f.queue.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestQueue_TerminalHook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var terminal []*task.Task
	f.queue.SetTerminalHook(func(tk *task.Task) {
		terminal = append(terminal, tk)
	})

	tk := submit(t, f.queue, "crunchbase", 0)
	worker, _ := f.connectWorker(t, "crunchbase", "cb-token")
	_, _, err := f.queue.AssignNext(ctx, "crunchbase")
	require.NoError(t, err)

	f.queue.HandleComplete(ctx, tk.ID, worker.ID, nil)

	require.Len(t, terminal, 1)
	assert.Equal(t, tk.ID, terminal[0].ID)
	assert.Equal(t, task.StatusCompleted, terminal[0].Status)
}

func TestQueue_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submit(t, f.queue, "crunchbase", 0)
	submit(t, f.queue, "crunchbase", 1)
	w, _ := f.connectWorker(t, "crunchbase", "cb-token")
	require.NoError(t, f.registry.MarkWorking(ctx, w.ID, "task-x"))

	stats := f.queue.Stats(ctx, []string{"crunchbase", "tracxn"})
	require.Contains(t, stats, "crunchbase")
	require.Contains(t, stats, "tracxn")

	cb := stats["crunchbase"]
	assert.Equal(t, int64(2), cb.Pending)
	assert.Equal(t, 1, cb.TotalWorkers)
	assert.Equal(t, 0, cb.IdleWorkers)
	assert.Equal(t, 1, cb.WorkingWorkers)

	assert.Equal(t, TypeStats{}, stats["tracxn"])
}

func TestQueue_EnqueueAppliesRetryLimit(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New(&config.WorkerConfig{Timeout: time.Minute}, st)
	q := New(&config.TaskConfig{Timeout: time.Minute, RetryLimit: 1, TerminalTTL: time.Hour}, st, reg, nil)

	tk, err := q.Enqueue(context.Background(), &task.SubmitRequest{APIType: "crunchbase", Action: "scrape"})
	require.NoError(t, err)
	assert.Equal(t, 1, tk.MaxRetries)

	// An explicit request value wins over the configured default.
	tk2, err := q.Enqueue(context.Background(), &task.SubmitRequest{APIType: "crunchbase", Action: "scrape", MaxRetries: maxRetries(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, tk2.MaxRetries)

	// Even when the explicit value happens to equal the model default.
	tk3, err := q.Enqueue(context.Background(), &task.SubmitRequest{APIType: "crunchbase", Action: "scrape", MaxRetries: maxRetries(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, tk3.MaxRetries)
}
