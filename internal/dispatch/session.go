package dispatch

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"nexoj/internal/judge/model"
	"nexoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultPollTimeout = 10 * time.Second

// ProgressHandler consumes decoded progress and result messages. The live
// channel and the durable-result channel are handled separately.
type ProgressHandler interface {
	HandleProgress(ctx context.Context, msg *model.ProgressMessage) error
	HandleResult(ctx context.Context, msg *model.ProgressMessage) error
}

// Conn is one physical worker link. The transport behind it is not this
// package's concern; it only needs to send an encoded task, learn about the
// worker's ack, and observe disconnection.
type Conn interface {
	// ID identifies the connection for logging.
	ID() string

	// SendTask delivers an encoded task. ack is invoked once when the
	// worker acknowledges receipt.
	SendTask(ctx context.Context, payload []byte, ack func()) error

	// Done is closed when the connection drops.
	Done() <-chan struct{}
}

// HubConfig holds hub dependencies and settings.
type HubConfig struct {
	Queue       *Queue
	Token       string
	Progress    ProgressHandler
	PollTimeout time.Duration
}

// Hub owns all per-worker sessions and the shared dispatch state. It is
// constructed once at startup and torn down with Close; nothing here is a
// package-level variable.
type Hub struct {
	queue       *Queue
	token       string
	progress    ProgressHandler
	pollTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewHub creates a new session hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("judge token is required")
	}
	if cfg.Progress == nil {
		return nil, fmt.Errorf("progress handler is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Hub{
		queue:       cfg.Queue,
		token:       cfg.Token,
		progress:    cfg.Progress,
		pollTimeout: cfg.PollTimeout,
		sessions:    make(map[string]*Session),
	}, nil
}

// Attach registers a worker connection and returns its session. The session
// terminates itself when the connection's Done channel closes.
func (h *Hub) Attach(conn Conn) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		hub:    h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		state:  stateIdle,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("hub is closed")
	}
	h.sessions[conn.ID()] = s
	h.mu.Unlock()

	logger.Info(ctx, "judge worker connected", zap.String("conn_id", conn.ID()))
	go s.watchDisconnect()
	return s, nil
}

// Close tears down all sessions; tasks awaiting ack are requeued.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.terminate()
	}
}

func (h *Hub) detach(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.conn.ID())
	h.mu.Unlock()
}

// checkToken compares the shared secret in constant time. Mismatches are
// dropped silently: no ack, no error reply.
func (h *Hub) checkToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

type sessionState int

const (
	stateIdle sessionState = iota
	statePolling
	stateAwaitingAck
	stateClosed
)

// Session is the per-worker state machine:
// Idle -> Polling -> AwaitingAck -> Idle, with disconnect-triggered requeue
// out of AwaitingAck. A session holds at most one task in flight.
type Session struct {
	hub    *Hub
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   sessionState
	pending *model.JudgeTask
}

// WaitForTask handles a worker's request for work. Duplicate requests while
// a poll or an unacked task is outstanding are logged no-ops.
func (s *Session) WaitForTask(token string) {
	if !s.hub.checkToken(token) {
		logger.Warn(s.ctx, "waitForTask with invalid token dropped", zap.String("conn_id", s.conn.ID()))
		return
	}

	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		logger.Warn(s.ctx, "duplicate waitForTask ignored", zap.String("conn_id", s.conn.ID()))
		return
	}
	s.state = statePolling
	s.mu.Unlock()

	go s.pollLoop()
}

func (s *Session) pollLoop() {
	for {
		select {
		case <-s.ctx.Done():
			// Disconnected while polling: the waiter just drops, nothing
			// to recover.
			return
		default:
		}

		task := s.hub.queue.Poll(s.ctx, s.hub.pollTimeout)
		if task == nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			continue
		}

		logger.Info(s.ctx, "judge task popped from queue",
			zap.String("task_id", task.TaskID), zap.String("conn_id", s.conn.ID()))

		s.mu.Lock()
		if s.state != statePolling {
			// Disconnected between poll return and hand-off; the task was
			// never sent, so it goes back at its original priority.
			s.mu.Unlock()
			s.hub.queue.Push(task)
			return
		}
		s.pending = task
		s.state = stateAwaitingAck
		s.mu.Unlock()

		payload, err := model.EncodeTask(task)
		if err != nil {
			logger.Error(s.ctx, "encode judge task failed",
				zap.String("task_id", task.TaskID), zap.Error(err))
			s.requeuePending()
			return
		}

		taskID := task.TaskID
		if err := s.conn.SendTask(s.ctx, payload, func() { s.handleAck(taskID) }); err != nil {
			logger.Warn(s.ctx, "send task to worker failed, requeueing",
				zap.String("task_id", taskID), zap.Error(err))
			s.requeuePending()
			return
		}
		logger.Info(s.ctx, "judge task sent, awaiting ack",
			zap.String("task_id", taskID), zap.String("conn_id", s.conn.ID()))
		return
	}
}

func (s *Session) handleAck(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateAwaitingAck || s.pending == nil {
		logger.Warn(s.ctx, "ack with no task in flight ignored", zap.String("task_id", taskID))
		return
	}
	logger.Info(s.ctx, "judge task acked", zap.String("task_id", taskID))
	s.pending = nil
	s.state = stateIdle
}

// ReportProgress handles a live progress message from the worker.
// Malformed payloads are logged and discarded; in-flight state is never
// touched on a bad message.
func (s *Session) ReportProgress(ctx context.Context, token string, payload []byte) {
	if !s.hub.checkToken(token) {
		logger.Warn(ctx, "reportProgress with invalid token dropped", zap.String("conn_id", s.conn.ID()))
		return
	}
	msg, err := model.DecodeProgress(payload)
	if err != nil {
		logger.Warn(ctx, "malformed progress message discarded", zap.Error(err))
		return
	}
	if err := s.hub.progress.HandleProgress(ctx, msg); err != nil {
		logger.Error(ctx, "handle progress failed",
			zap.String("task_id", msg.TaskID), zap.Error(err))
	}
}

// ReportResult handles a durable result message from the worker.
func (s *Session) ReportResult(ctx context.Context, token string, payload []byte) {
	if !s.hub.checkToken(token) {
		logger.Warn(ctx, "reportResult with invalid token dropped", zap.String("conn_id", s.conn.ID()))
		return
	}
	msg, err := model.DecodeProgress(payload)
	if err != nil {
		logger.Warn(ctx, "malformed result message discarded", zap.Error(err))
		return
	}
	if err := s.hub.progress.HandleResult(ctx, msg); err != nil {
		logger.Error(ctx, "handle result failed",
			zap.String("task_id", msg.TaskID), zap.Error(err))
	}
}

func (s *Session) watchDisconnect() {
	<-s.conn.Done()
	s.terminate()
}

func (s *Session) terminate() {
	s.cancel()
	s.hub.detach(s)

	s.mu.Lock()
	task := s.pending
	s.pending = nil
	prev := s.state
	s.state = stateClosed
	s.mu.Unlock()

	if task != nil {
		// Sent but never acked: back into the queue at its original
		// priority, value unchanged.
		logger.Warn(s.ctx, "worker disconnected with unacked task, requeueing",
			zap.String("task_id", task.TaskID), zap.String("conn_id", s.conn.ID()))
		s.hub.queue.Push(task)
	} else if prev != stateClosed {
		logger.Info(s.ctx, "judge worker disconnected", zap.String("conn_id", s.conn.ID()))
	}
}

func (s *Session) requeuePending() {
	s.mu.Lock()
	task := s.pending
	s.pending = nil
	if s.state == stateAwaitingAck {
		s.state = stateIdle
	}
	s.mu.Unlock()
	if task != nil {
		s.hub.queue.Push(task)
	}
}
