// Package session owns the orchestrator side of a worker connection: the
// WebSocket upgrade, the auth handshake, serialized frame writes, and the
// read loop that feeds worker frames into the registry and queue.
//
// Transport-level ping/pong is not used; application heartbeat frames are
// the sole liveness signal, so a single timeout governs both network and
// processing health. A generous read deadline backstops truly dead
// connections.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scrapeflow/orchestrator/internal/logger"
	"github.com/scrapeflow/orchestrator/internal/protocol"
	"github.com/scrapeflow/orchestrator/internal/queue"
	"github.com/scrapeflow/orchestrator/internal/registry"
	"github.com/scrapeflow/orchestrator/internal/relay"
)

const (
	writeWait    = 10 * time.Second
	authWait     = 30 * time.Second
	maxFrameSize = 1 << 20 // payloads and results can be large
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Workers connect from anywhere; auth happens at the frame level.
		return true
	},
}

// Session is one worker connection. Writes are serialized through a mutex so
// the dispatch loop, heartbeat acks, and cancels never interleave frames.
type Session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Session) Send(f *protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Handler accepts worker connections on /worker.
type Handler struct {
	registry        *registry.Registry
	queue           *queue.Queue
	relay           *relay.Relay
	readIdleTimeout time.Duration
}

func NewHandler(reg *registry.Registry, q *queue.Queue, rel *relay.Relay, readIdleTimeout time.Duration) *Handler {
	if readIdleTimeout <= 0 {
		readIdleTimeout = 10 * time.Minute
	}
	return &Handler{
		registry:        reg,
		queue:           q,
		relay:           rel,
		readIdleTimeout: readIdleTimeout,
	}
}

// ServeWorker upgrades the connection and runs the session to completion.
func (h *Handler) ServeWorker(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade worker connection")
		return
	}

	sess := &Session{conn: conn}
	conn.SetReadLimit(maxFrameSize)

	worker, ok := h.authenticate(r, sess)
	if !ok {
		sess.Close()
		return
	}

	h.readLoop(sess, worker)
}

// authenticate enforces the first-frame-must-be-auth rule.
func (h *Handler) authenticate(r *http.Request, sess *Session) (*registry.Worker, bool) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(authWait))

	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("connection closed before auth")
		return nil, false
	}

	frame, err := protocol.Decode(data)
	if err != nil || frame.Type != protocol.TypeAuth {
		logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("first frame was not auth, closing")
		_ = sess.Send(protocol.AuthFailed("first frame must be auth"))
		return nil, false
	}

	worker, err := h.registry.Authenticate(r.Context(), frame.APIType, frame.Token, frame.Metadata, sess)
	if err != nil {
		logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("api_type", frame.APIType).
			Err(err).
			Msg("worker authentication rejected")
		_ = sess.Send(protocol.AuthFailed(err.Error()))
		return nil, false
	}

	if err := sess.Send(protocol.AuthSuccess(worker.ID)); err != nil {
		h.registry.Disconnect(r.Context(), worker.ID, "auth ack send failed")
		return nil, false
	}

	return worker, true
}

// readLoop processes frames until the connection dies. Malformed or
// unexpected frames are logged and dropped; only transport errors end the
// session.
func (h *Handler) readLoop(sess *Session, worker *registry.Worker) {
	log := logger.WithWorker(worker.ID)
	ctx := context.Background()

	defer func() {
		sess.Close()
		h.registry.Disconnect(ctx, worker.ID, "connection closed")
	}()

	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(h.readIdleTimeout))

		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("session read error")
			}
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		h.handleFrame(ctx, sess, worker.ID, frame, log)
	}
}

func (h *Handler) handleFrame(ctx context.Context, sess *Session, workerID string, frame *protocol.Frame, log *zerolog.Logger) {
	switch frame.Type {
	case protocol.TypeHeartbeat:
		w, err := h.registry.Heartbeat(ctx, workerID)
		if err != nil {
			log.Warn().Err(err).Msg("heartbeat for unknown worker")
			return
		}
		ack := protocol.HeartbeatAck(w.ID, string(w.Status), w.CurrentTaskID)
		if err := sess.Send(ack); err != nil {
			log.Debug().Err(err).Msg("failed to send heartbeat ack")
		}

	case protocol.TypeRunning:
		h.queue.HandleRunning(ctx, frame.TaskID)

	case protocol.TypeStatus:
		h.relayStatus(ctx, frame, log)

	case protocol.TypeComplete:
		h.queue.HandleComplete(ctx, frame.TaskID, workerID, frame.Result)

	case protocol.TypeError:
		h.queue.HandleError(ctx, frame.TaskID, workerID, frame.Error)

	case protocol.TypePong:
		log.Debug().Msg("pong received")

	default:
		log.Warn().Str("type", string(frame.Type)).Msg("dropping unexpected frame")
	}
}

// relayStatus forwards a progress frame for a non-terminal task.
func (h *Handler) relayStatus(ctx context.Context, frame *protocol.Frame, log *zerolog.Logger) {
	t, err := h.queue.Get(ctx, frame.TaskID)
	if err != nil {
		log.Warn().Str("task_id", frame.TaskID).Msg("status frame for unknown task")
		return
	}
	if t.Status.IsTerminal() {
		log.Debug().Str("task_id", frame.TaskID).Msg("dropping status for terminal task")
		return
	}

	h.relay.Forward(&relay.Update{
		TaskID:     t.ID,
		ReportID:   t.ReportID,
		StepKey:    frame.StepKey,
		DetailType: frame.DetailType,
		Message:    frame.Message,
		Data:       frame.Data,
	})
}
