// Package dispatch runs the assignment loop: the single writer of the
// pending-to-assigned transition. It wakes on queue signals and on a short
// timer as a safety net, drains assignable work per api_type, and sends task
// frames on worker sessions.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/task"
)

const defaultTick = 5 * time.Second

type Loop struct {
	queue    *queue.Queue
	registry *registry.Registry
	apiTypes []string
	tick     time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(q *queue.Queue, reg *registry.Registry, apiTypes []string) *Loop {
	return &Loop{
		queue:    q,
		registry: reg,
		apiTypes: apiTypes,
		tick:     defaultTick,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the loop.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)

	logger.WithComponent("dispatch").Info().
		Dur("tick", l.tick).
		Strs("api_types", l.apiTypes).
		Msg("assignment loop started")
}

// Stop halts the loop.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
	logger.WithComponent("dispatch").Info().Msg("assignment loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-l.queue.Wakeup():
		case <-ticker.C:
		}
		l.assignAll(ctx)
	}
}

// assignAll drains assignable work for every api_type.
func (l *Loop) assignAll(ctx context.Context) {
	for _, apiType := range l.apiTypes {
		for {
			t, w, err := l.queue.AssignNext(ctx, apiType)
			if err != nil {
				logger.WithAPIType(apiType).Error().Err(err).Msg("assignment failed")
				break
			}
			if t == nil {
				break
			}
			l.dispatch(ctx, t, w)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, t *task.Task, w *registry.Worker) {
	sess, ok := l.registry.Session(w.ID)
	if !ok {
		logger.WithTask(t.ID).Warn().
			Str("worker_id", w.ID).
			Msg("assigned worker has no session")
		l.queue.HandleDispatchFailure(ctx, t, w.ID)
		return
	}

	frame := protocol.TaskAssignment(t.ID, t.ReportID, t.Action, t.Payload)
	if err := sess.Send(frame); err != nil {
		logger.WithTask(t.ID).Warn().
			Err(err).
			Str("worker_id", w.ID).
			Msg("dispatch send failed")
		l.queue.HandleDispatchFailure(ctx, t, w.ID)
		return
	}

	logger.WithTask(t.ID).Info().
		Str("worker_id", w.ID).
		Str("api_type", t.APIType).
		Str("action", t.Action).
		Msg("task dispatched")
}
