package handler

import (
	"context"
	"testing"
	"time"

	"nexoj/internal/dispatch"
	"nexoj/internal/judge/model"
)

const testToken = "secret-judge-token"

type nopProgress struct{}

func (nopProgress) HandleProgress(ctx context.Context, msg *model.ProgressMessage) error {
	return nil
}

func (nopProgress) HandleResult(ctx context.Context, msg *model.ProgressMessage) error {
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestGateway(t *testing.T, idleDeadline time.Duration) (*WorkerGateway, *dispatch.Queue) {
	t.Helper()
	queue := dispatch.NewQueue()
	hub, err := dispatch.NewHub(dispatch.HubConfig{
		Queue:       queue,
		Token:       testToken,
		Progress:    nopProgress{},
		PollTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(hub.Close)
	gateway := NewWorkerGateway(hub)
	gateway.idleDeadline = idleDeadline
	return gateway, queue
}

func TestSilentWorkerWithUnackedTaskIsDropped(t *testing.T) {
	t.Parallel()
	gateway, queue := newTestGateway(t, 50*time.Millisecond)

	conn, session, err := gateway.attach("w1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	session.WaitForTask(testToken)
	queue.Push(&model.JudgeTask{TaskID: "t1", Kind: model.TaskStandard, Priority: 2})

	// Take the delivery the way a poll reply would, stash the ack, and then
	// go quiet without ever acknowledging.
	var delivery taskDelivery
	select {
	case delivery = <-conn.taskCh:
	case <-time.After(time.Second):
		t.Fatal("task never delivered to the connection")
	}
	conn.stashAck("t1", delivery.ack)

	waitFor(t, time.Second, func() bool {
		select {
		case <-conn.Done():
			return true
		default:
			return false
		}
	})
	waitFor(t, time.Second, func() bool { return queue.Len() == 1 })
}

func TestIdleWorkerWithoutTaskIsKept(t *testing.T) {
	t.Parallel()
	gateway, _ := newTestGateway(t, 30*time.Millisecond)

	conn, _, err := gateway.attach("w1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	// Nothing outstanding, so silence alone must not cost the connection.
	time.Sleep(120 * time.Millisecond)
	select {
	case <-conn.Done():
		t.Fatal("idle connection with no task was dropped")
	default:
	}
}
