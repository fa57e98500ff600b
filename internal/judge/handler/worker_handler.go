package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nexoj/internal/dispatch"
	"nexoj/internal/judge/model"
	appErr "nexoj/pkg/errors"
	"nexoj/pkg/utils/logger"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
	"go.uber.org/zap"
)

// How long one poll request is held open before the worker is told to
// retry. The session keeps polling the queue in between, so a task landing
// after the reply is buffered for the worker's next poll.
const pollHoldTime = 30 * time.Second

// A worker that dies between requests never aborts a poll, so silence is
// the only disconnect signal left. While a task is outstanding the worker
// must show up again within this window or the connection is dropped and
// the task requeued.
const defaultIdleDeadline = 2 * pollHoldTime

// WorkerGateway adapts HTTP long-polling judge workers to the dispatch
// hub's connection model. Each worker id maps to one logical connection;
// a poll request aborted mid-wait counts as a disconnect, and so does
// going silent past the idle deadline with a task outstanding.
type WorkerGateway struct {
	hub          *dispatch.Hub
	idleDeadline time.Duration

	mu    sync.Mutex
	conns map[string]*workerConn
}

// NewWorkerGateway creates a gateway bound to the hub.
func NewWorkerGateway(hub *dispatch.Hub) *WorkerGateway {
	return &WorkerGateway{
		hub:          hub,
		idleDeadline: defaultIdleDeadline,
		conns:        make(map[string]*workerConn),
	}
}

type taskDelivery struct {
	payload []byte
	ack     func()
}

type workerConn struct {
	id      string
	session *dispatch.Session
	done    chan struct{}
	closeMu sync.Once
	taskCh  chan taskDelivery

	mu       sync.Mutex
	acks     map[string]func()
	lastSeen time.Time
}

func (c *workerConn) ID() string { return c.id }

func (c *workerConn) SendTask(ctx context.Context, payload []byte, ack func()) error {
	select {
	case <-c.done:
		return fmt.Errorf("worker connection %s is closed", c.id)
	default:
	}
	select {
	case c.taskCh <- taskDelivery{payload: payload, ack: ack}:
		return nil
	default:
		return fmt.Errorf("worker %s already has an undelivered task", c.id)
	}
}

func (c *workerConn) Done() <-chan struct{} { return c.done }

func (c *workerConn) close() {
	c.closeMu.Do(func() { close(c.done) })
}

func (c *workerConn) stashAck(taskID string, ack func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[taskID] = ack
}

func (c *workerConn) takeAck(taskID string) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack := c.acks[taskID]
	delete(c.acks, taskID)
	return ack
}

func (c *workerConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *workerConn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// taskOutstanding reports whether the worker owes us anything: a delivery
// still sitting in the buffer, or a delivered task it has not acked.
func (c *workerConn) taskOutstanding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acks) > 0 || len(c.taskCh) > 0
}

func (g *WorkerGateway) attach(workerID string) (*workerConn, *dispatch.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if conn, ok := g.conns[workerID]; ok {
		return conn, conn.session, nil
	}
	conn := &workerConn{
		id:       workerID,
		done:     make(chan struct{}),
		taskCh:   make(chan taskDelivery, 1),
		acks:     make(map[string]func()),
		lastSeen: time.Now(),
	}
	session, err := g.hub.Attach(conn)
	if err != nil {
		return nil, nil, err
	}
	conn.session = session
	g.conns[workerID] = conn
	go g.watchIdle(conn)
	return conn, session, nil
}

// watchIdle drops a connection whose worker took a task and then went
// silent. Closing the connection runs the session's disconnect path, which
// requeues the unacked task at its original priority.
func (g *WorkerGateway) watchIdle(conn *workerConn) {
	interval := g.idleDeadline / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if conn.taskOutstanding() && conn.idleFor() >= g.idleDeadline {
				logger.Warn(context.Background(), "worker silent past idle deadline, dropping",
					zap.String("worker_id", conn.id))
				g.drop(conn)
				return
			}
		}
	}
}

func (g *WorkerGateway) drop(conn *workerConn) {
	g.mu.Lock()
	if cur, ok := g.conns[conn.id]; ok && cur == conn {
		delete(g.conns, conn.id)
	}
	g.mu.Unlock()
	conn.close()
}

type workerAuthRequest struct {
	WorkerID string `json:"workerId"`
	Token    string `json:"token"`
}

type workerAckRequest struct {
	WorkerID string `json:"workerId"`
	TaskID   string `json:"taskId"`
}

type workerReportRequest struct {
	WorkerID string          `json:"workerId"`
	Token    string          `json:"token"`
	Payload  json.RawMessage `json:"payload"`
}

// PollHandler is the worker's task request. It answers with the encoded
// task, or 204 when nothing arrived within the hold time.
func (g *WorkerGateway) PollHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workerAuthRequest
		if err := httpx.Parse(r, &req); err != nil || req.WorkerID == "" {
			writeError(w, r, appErr.New(appErr.InvalidParams))
			return
		}
		conn, session, err := g.attach(req.WorkerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conn.touch()
		session.WaitForTask(req.Token)

		select {
		case delivery := <-conn.taskCh:
			conn.touch()
			task, err := model.DecodeTask(delivery.payload)
			if err != nil {
				writeError(w, r, appErr.Wrap(err, appErr.TaskDecode))
				return
			}
			conn.stashAck(task.TaskID, delivery.ack)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(delivery.payload)

		case <-r.Context().Done():
			// Worker went away mid-wait; treat it as a disconnect so any
			// in-flight task is requeued.
			logger.Warn(r.Context(), "worker poll aborted", zap.String("worker_id", req.WorkerID))
			g.drop(conn)

		case <-time.After(pollHoldTime):
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// AckHandler acknowledges receipt of a dispatched task.
func (g *WorkerGateway) AckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workerAckRequest
		if err := httpx.Parse(r, &req); err != nil || req.WorkerID == "" || req.TaskID == "" {
			writeError(w, r, appErr.New(appErr.InvalidParams))
			return
		}
		g.mu.Lock()
		conn, ok := g.conns[req.WorkerID]
		g.mu.Unlock()
		if !ok {
			writeError(w, r, appErr.New(appErr.SessionClosed))
			return
		}
		conn.touch()
		if ack := conn.takeAck(req.TaskID); ack != nil {
			ack()
		}
		writeOK(w, r, nil)
	}
}

// ProgressHandler forwards one live progress message.
func (g *WorkerGateway) ProgressHandler() http.HandlerFunc {
	return g.report(func(s *dispatch.Session, ctx context.Context, token string, payload []byte) {
		s.ReportProgress(ctx, token, payload)
	})
}

// ResultHandler forwards one durable result message.
func (g *WorkerGateway) ResultHandler() http.HandlerFunc {
	return g.report(func(s *dispatch.Session, ctx context.Context, token string, payload []byte) {
		s.ReportResult(ctx, token, payload)
	})
}

func (g *WorkerGateway) report(deliver func(*dispatch.Session, context.Context, string, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workerReportRequest
		if err := httpx.Parse(r, &req); err != nil || req.WorkerID == "" {
			writeError(w, r, appErr.New(appErr.InvalidParams))
			return
		}
		conn, session, err := g.attach(req.WorkerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conn.touch()
		deliver(session, r.Context(), req.Token, req.Payload)
		// Bad tokens and malformed payloads are dropped silently inside the
		// session; the worker always sees success here.
		writeOK(w, r, nil)
	}
}

// RegisterWorkerRoutes mounts the worker-facing endpoints.
func RegisterWorkerRoutes(server *rest.Server, gateway *WorkerGateway) {
	server.AddRoutes([]rest.Route{
		{Method: http.MethodPost, Path: "/api/v1/worker/poll", Handler: gateway.PollHandler()},
		{Method: http.MethodPost, Path: "/api/v1/worker/ack", Handler: gateway.AckHandler()},
		{Method: http.MethodPost, Path: "/api/v1/worker/progress", Handler: gateway.ProgressHandler()},
		{Method: http.MethodPost, Path: "/api/v1/worker/result", Handler: gateway.ResultHandler()},
	}, rest.WithTimeout(pollHoldTime+5*time.Second))
}
