// Package agent is the worker-side runtime: it keeps one WebSocket session
// to the orchestrator, executes assigned tasks against the co-located scraper
// API, and survives reconnects without losing terminal outcomes or running
// the same task twice.
package agent

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scrapeflow/orchestrator/internal/config"
	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/protocol"
)

const (
	writeWait        = 10 * time.Second
	healthPollEvery  = 5 * time.Second
	maxBackoff       = 60 * time.Second
	backoffStep      = 5 * time.Second
	completedHistory = 100
)

// ErrAuthRejected means the orchestrator refused our token. Retrying cannot
// help; the agent exits so the operator notices.
var ErrAuthRejected = errors.New("orchestrator rejected authentication")

// ErrScraperUnavailable means the local scraper never became healthy.
var ErrScraperUnavailable = errors.New("local scraper API is not healthy")

// Agent is the worker runtime. One task at a time, by contract.
type Agent struct {
	cfg     *config.AgentConfig
	adapter *Adapter

	mu            sync.Mutex
	conn          *websocket.Conn
	workerID      string
	currentTaskID string
	cancelTask    context.CancelFunc
	pending       []*protocol.Frame // terminal frames awaiting a live session
	completed     *completedSet

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg *config.AgentConfig) *Agent {
	return &Agent{
		cfg:       cfg,
		adapter:   NewAdapter(cfg.LocalAPIURL, cfg.APIType),
		completed: newCompletedSet(completedHistory),
		stopCh:    make(chan struct{}),
	}
}

// Adapter exposes the scraper adapter for the progress receiver.
func (a *Agent) Adapter() *Adapter {
	return a.adapter
}

// Run blocks until the context ends, Stop is called, or auth is rejected.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.waitForScraper(ctx); err != nil {
		return err
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		default:
		}

		err := a.runSession(ctx)
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		backoff := time.Duration(attempt) * backoffStep
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("session ended, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(backoff):
		}
	}
}

// Stop ends the session and the reconnect loop. A running task is cancelled;
// it never reports an outcome, and the orchestrator's grace window hands it
// to another worker.
func (a *Agent) Stop() {
	close(a.stopCh)
	a.mu.Lock()
	if a.cancelTask != nil {
		a.cancelTask()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// waitForScraper gates the first connection on scraper health, so the agent
// never accepts work it cannot execute.
func (a *Agent) waitForScraper(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.HealthWait)
	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthPollEvery)
		healthy := a.adapter.Healthy(checkCtx)
		cancel()
		if healthy {
			logger.Info().Str("api", a.cfg.LocalAPIURL).Msg("local scraper is healthy")
			return nil
		}
		if time.Now().After(deadline) {
			return ErrScraperUnavailable
		}

		logger.Info().Str("api", a.cfg.LocalAPIURL).Msg("waiting for local scraper")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return errors.New("stopped while waiting for scraper")
		case <-time.After(healthPollEvery):
		}
	}
}

// runSession dials, authenticates, flushes parked outcomes, and reads frames
// until the connection dies.
func (a *Agent) runSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.OrchestratorURL, nil)
	if err != nil {
		return err
	}

	workerID, err := a.authenticate(conn)
	if err != nil {
		conn.Close()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.workerID = workerID
	flush := a.pending
	a.pending = nil
	a.mu.Unlock()

	logger.Info().
		Str("worker_id", workerID).
		Str("api_type", a.cfg.APIType).
		Msg("connected to orchestrator")

	for _, f := range flush {
		if err := a.send(f); err != nil {
			logger.Warn().Err(err).Str("task_id", f.TaskID).Msg("failed to flush parked outcome")
			a.park(f)
		}
	}

	sessionDone := make(chan struct{})
	a.wg.Add(1)
	go a.heartbeatLoop(conn, sessionDone)

	err = a.readLoop(ctx, conn)
	close(sessionDone)

	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	conn.Close()

	return err
}

// authenticate sends the auth frame and waits for the verdict. A reconnect
// during a running task advertises it so the orchestrator can correlate.
func (a *Agent) authenticate(conn *websocket.Conn) (string, error) {
	hostname, _ := os.Hostname()
	metadata := map[string]string{"hostname": hostname}

	a.mu.Lock()
	if a.currentTaskID != "" {
		metadata["in_progress_task"] = a.currentTaskID
	}
	a.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(protocol.Auth(a.cfg.APIType, a.cfg.Token, metadata)); err != nil {
		return "", err
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		return "", err
	}

	switch frame.Type {
	case protocol.TypeAuthSuccess:
		return frame.WorkerID, nil
	case protocol.TypeAuthFailed:
		logger.Error().Str("reason", frame.Error).Msg("authentication rejected")
		return "", ErrAuthRejected
	default:
		return "", errors.New("unexpected frame during auth handshake")
	}
}

func (a *Agent) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.send(protocol.Heartbeat()); err != nil {
				logger.Warn().Err(err).Msg("heartbeat send failed")
				conn.Close()
				return
			}
		}
	}
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Time{})
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Type {
		case protocol.TypeTask:
			a.acceptTask(ctx, frame)
		case protocol.TypeCancel:
			a.cancelCurrent(frame.TaskID)
		case protocol.TypePing:
			if err := a.send(protocol.Pong()); err != nil {
				logger.Debug().Err(err).Msg("pong send failed")
			}
		case protocol.TypeHeartbeatAck:
			logger.Debug().Str("status", frame.Status).Msg("heartbeat acknowledged")
		case protocol.TypeGoodbye:
			logger.Info().Msg("orchestrator said goodbye")
			return errors.New("orchestrator shutting down")
		default:
			logger.Warn().Str("type", string(frame.Type)).Msg("dropping unexpected frame")
		}
	}
}

// acceptTask starts execution unless the frame is a duplicate or the agent
// is already busy.
func (a *Agent) acceptTask(ctx context.Context, frame *protocol.Frame) {
	a.mu.Lock()
	if a.completed.Contains(frame.TaskID) {
		a.mu.Unlock()
		logger.Info().Str("task_id", frame.TaskID).Msg("ignoring already-finished task")
		return
	}
	if a.currentTaskID == frame.TaskID {
		a.mu.Unlock()
		logger.Info().Str("task_id", frame.TaskID).Msg("ignoring duplicate of running task")
		return
	}
	if a.currentTaskID != "" {
		busy := a.currentTaskID
		a.mu.Unlock()
		logger.Warn().
			Str("task_id", frame.TaskID).
			Str("running", busy).
			Msg("refusing concurrent task")
		if err := a.send(protocol.TaskError(frame.TaskID, "worker busy with another task")); err != nil {
			logger.Warn().Err(err).Msg("failed to send busy error")
		}
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	a.currentTaskID = frame.TaskID
	a.cancelTask = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.execute(taskCtx, frame)
}

// execute runs one task to its terminal outcome.
func (a *Agent) execute(ctx context.Context, frame *protocol.Frame) {
	defer a.wg.Done()

	log := logger.WithTask(frame.TaskID)
	log.Info().Str("action", frame.Action).Msg("task started")

	if err := a.send(protocol.Running(frame.TaskID)); err != nil {
		log.Warn().Err(err).Msg("failed to send running frame")
	}

	result, err := a.adapter.Execute(ctx, frame.Action, frame.Payload)

	a.mu.Lock()
	a.currentTaskID = ""
	a.cancelTask = nil
	a.completed.Add(frame.TaskID)
	a.mu.Unlock()

	if ctx.Err() != nil {
		// Cancelled. The orchestrator already settled the task.
		log.Info().Msg("task cancelled locally")
		return
	}

	var outcome *protocol.Frame
	if err != nil {
		log.Error().Err(err).Msg("task failed")
		outcome = protocol.TaskError(frame.TaskID, err.Error())
	} else {
		log.Info().Msg("task completed")
		outcome = protocol.Complete(frame.TaskID, result)
	}

	if err := a.send(outcome); err != nil {
		log.Warn().Err(err).Msg("parking terminal outcome for next session")
		a.park(outcome)
	}
}

func (a *Agent) cancelCurrent(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentTaskID != taskID || a.cancelTask == nil {
		logger.Warn().Str("task_id", taskID).Msg("cancel for task we are not running")
		return
	}
	logger.Info().Str("task_id", taskID).Msg("cancelling running task")
	a.cancelTask()
}

// SendStatus forwards scraper progress. Progress is ephemeral: frames are
// dropped while disconnected rather than parked.
func (a *Agent) SendStatus(taskID, stepKey, detailType, message string, data map[string]interface{}) {
	if err := a.send(protocol.StatusUpdate(taskID, stepKey, detailType, message, data)); err != nil {
		logger.Debug().Err(err).Str("task_id", taskID).Msg("dropping status update")
	}
}

var errNotConnected = errors.New("not connected")

func (a *Agent) send(f *protocol.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return errNotConnected
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteJSON(f)
}

// park queues a terminal frame for delivery on the next session.
func (a *Agent) park(f *protocol.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, f)
}

// completedSet remembers the ids of recently finished tasks so redelivered
// assignments after a reconnect are not executed twice.
type completedSet struct {
	ids   map[string]bool
	order []string
	limit int
}

func newCompletedSet(limit int) *completedSet {
	return &completedSet{
		ids:   make(map[string]bool, limit),
		limit: limit,
	}
}

func (c *completedSet) Add(taskID string) {
	if c.ids[taskID] {
		return
	}
	c.ids[taskID] = true
	c.order = append(c.order, taskID)
	if len(c.order) > c.limit {
		delete(c.ids, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *completedSet) Contains(taskID string) bool {
	return c.ids[taskID]
}
