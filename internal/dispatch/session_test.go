package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"nexoj/internal/judge/model"
)

const testToken = "secret-judge-token"

type fakeConn struct {
	id   string
	done chan struct{}

	mu   sync.Mutex
	sent [][]byte
	acks []func()
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, done: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendTask(ctx context.Context, payload []byte, ack func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	c.acks = append(c.acks, ack)
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) lastSent(t *testing.T) (*model.JudgeTask, func()) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no task was sent")
	}
	task, err := model.DecodeTask(c.sent[len(c.sent)-1])
	if err != nil {
		t.Fatalf("decode sent task: %v", err)
	}
	return task, c.acks[len(c.acks)-1]
}

func (c *fakeConn) disconnect() { close(c.done) }

type recordingHandler struct {
	mu       sync.Mutex
	progress []*model.ProgressMessage
	results  []*model.ProgressMessage
}

func (h *recordingHandler) HandleProgress(ctx context.Context, msg *model.ProgressMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, msg)
	return nil
}

func (h *recordingHandler) HandleResult(ctx context.Context, msg *model.ProgressMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, msg)
	return nil
}

func (h *recordingHandler) progressCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.progress)
}

func newTestHub(t *testing.T, q *Queue, handler ProgressHandler) *Hub {
	t.Helper()
	if handler == nil {
		handler = &recordingHandler{}
	}
	hub, err := NewHub(HubConfig{
		Queue:       q,
		Token:       testToken,
		Progress:    handler,
		PollTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(hub.Close)
	return hub
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWaitForTaskDeliversQueuedTask(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	hub := newTestHub(t, q, nil)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	q.Push(&model.JudgeTask{TaskID: "t1", JudgeID: 1, Priority: 2})
	session.WaitForTask(testToken)

	if !waitFor(t, 2*time.Second, func() bool { return conn.sentCount() == 1 }) {
		t.Fatal("task was never sent to the worker")
	}
	task, ack := conn.lastSent(t)
	if task.TaskID != "t1" {
		t.Fatalf("expected task t1, got %s", task.TaskID)
	}
	ack()
	conn.disconnect()
	if !waitFor(t, time.Second, func() bool { return q.Len() == 0 }) {
		t.Fatalf("acked task must not be requeued, queue len %d", q.Len())
	}
}

func TestWaitForTaskInvalidTokenIsSilent(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	hub := newTestHub(t, q, nil)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	q.Push(&model.JudgeTask{TaskID: "t1", JudgeID: 1, Priority: 2})
	session.WaitForTask("wrong-token")

	time.Sleep(100 * time.Millisecond)
	if conn.sentCount() != 0 {
		t.Fatal("task must not be dispatched on an invalid token")
	}
	if q.Len() != 1 {
		t.Fatalf("task must stay queued, got len %d", q.Len())
	}
}

func TestDuplicateWaitForTaskIsNoOp(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	hub := newTestHub(t, q, nil)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	session.WaitForTask(testToken)
	session.WaitForTask(testToken)

	q.Push(&model.JudgeTask{TaskID: "t1", JudgeID: 1, Priority: 2})
	if !waitFor(t, 2*time.Second, func() bool { return conn.sentCount() == 1 }) {
		t.Fatal("task was never sent to the worker")
	}

	// A second poll loop would grab and hold this one.
	q.Push(&model.JudgeTask{TaskID: "t2", JudgeID: 2, Priority: 2})
	time.Sleep(100 * time.Millisecond)
	if conn.sentCount() != 1 {
		t.Fatalf("duplicate waitForTask spawned a second consumer, sent %d", conn.sentCount())
	}
	if q.Len() != 1 {
		t.Fatalf("second task must stay queued, got len %d", q.Len())
	}
}

func TestDisconnectBeforeAckRequeuesAtSamePriority(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	hub := newTestHub(t, q, nil)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	original := &model.JudgeTask{
		TaskID:   "t1",
		JudgeID:  7,
		Priority: model.EffectivePriority(model.PriorityContest, 7),
	}
	q.Push(original)
	session.WaitForTask(testToken)
	if !waitFor(t, 2*time.Second, func() bool { return conn.sentCount() == 1 }) {
		t.Fatal("task was never sent to the worker")
	}

	// Worker drops before acking.
	conn.disconnect()
	if !waitFor(t, 2*time.Second, func() bool { return q.Len() == 1 }) {
		t.Fatalf("unacked task was not requeued, queue len %d", q.Len())
	}

	got := q.Poll(context.Background(), time.Second)
	if got == nil || got.TaskID != "t1" {
		t.Fatalf("expected requeued t1, got %v", got)
	}
	if got.Priority != original.Priority {
		t.Fatalf("requeue changed priority: %v != %v", got.Priority, original.Priority)
	}
}

func TestReportProgressRoutesToHandler(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	handler := &recordingHandler{}
	hub := newTestHub(t, q, handler)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"type":   int(model.ProgressStarted),
		"taskId": "t1",
	})
	session.ReportProgress(context.Background(), testToken, payload)

	if handler.progressCount() != 1 {
		t.Fatalf("expected 1 progress message, got %d", handler.progressCount())
	}
	if handler.progress[0].Kind != model.ProgressStarted {
		t.Fatalf("expected started, got %v", handler.progress[0].Kind)
	}
}

func TestReportProgressDropsBadInput(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	handler := &recordingHandler{}
	hub := newTestHub(t, q, handler)
	conn := newFakeConn("worker-1")
	session, err := hub.Attach(conn)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	good, _ := json.Marshal(map[string]interface{}{
		"type":   int(model.ProgressStarted),
		"taskId": "t1",
	})
	session.ReportProgress(context.Background(), "wrong-token", good)
	session.ReportProgress(context.Background(), testToken, []byte("{not json"))
	session.ReportProgress(context.Background(), testToken, []byte(`{"type":99,"taskId":"t1"}`))

	if handler.progressCount() != 0 {
		t.Fatalf("bad input reached the handler, got %d messages", handler.progressCount())
	}
}
