package service

import (
	"sync"

	"nexoj/internal/judge/model"
)

// Notifier receives live progress for forwarding to watching clients.
// Implementations must not block; the protocol handler calls these inline.
type Notifier interface {
	TaskStarted(taskID string)
	CompileFinished(taskID string, compile *model.CompileResult)
	ProgressUpdated(taskID string, progress *model.JudgeProgress)
	ResultReady(taskID string, progress *model.JudgeProgress)
	TaskReported(taskID string)
}

// ProgressEvent is one fan-out item delivered to subscribers.
type ProgressEvent struct {
	Kind     model.ProgressKind   `json:"kind"`
	TaskID   string               `json:"task_id"`
	Compile  *model.CompileResult `json:"compile,omitempty"`
	Progress *model.JudgeProgress `json:"progress,omitempty"`
}

// BroadcastNotifier fans progress out to in-process subscribers. Events for
// a task are buffered until the worker reports cleanup, so a subscriber that
// attaches mid-judge still sees the full history.
type BroadcastNotifier struct {
	mu      sync.Mutex
	history map[string][]ProgressEvent
	subs    map[string][]chan ProgressEvent
}

// NewBroadcastNotifier creates an empty notifier.
func NewBroadcastNotifier() *BroadcastNotifier {
	return &BroadcastNotifier{
		history: make(map[string][]ProgressEvent),
		subs:    make(map[string][]chan ProgressEvent),
	}
}

// Subscribe attaches a watcher for one task. Buffered history is replayed
// first. The returned cancel func must be called when done.
func (n *BroadcastNotifier) Subscribe(taskID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 32)
	n.mu.Lock()
	for _, event := range n.history[taskID] {
		select {
		case ch <- event:
		default:
		}
	}
	n.subs[taskID] = append(n.subs[taskID], ch)
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subs[taskID]
		for i, cur := range subs {
			if cur == ch {
				n.subs[taskID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (n *BroadcastNotifier) publish(event ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history[event.TaskID] = append(n.history[event.TaskID], event)
	for _, ch := range n.subs[event.TaskID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it can recover from history on reattach.
		}
	}
}

func (n *BroadcastNotifier) TaskStarted(taskID string) {
	n.publish(ProgressEvent{Kind: model.ProgressStarted, TaskID: taskID})
}

func (n *BroadcastNotifier) CompileFinished(taskID string, compile *model.CompileResult) {
	n.publish(ProgressEvent{Kind: model.ProgressCompiled, TaskID: taskID, Compile: compile})
}

func (n *BroadcastNotifier) ProgressUpdated(taskID string, progress *model.JudgeProgress) {
	n.publish(ProgressEvent{Kind: model.ProgressRunning, TaskID: taskID, Progress: progress})
}

func (n *BroadcastNotifier) ResultReady(taskID string, progress *model.JudgeProgress) {
	n.publish(ProgressEvent{Kind: model.ProgressFinished, TaskID: taskID, Progress: progress})
}

// TaskReported drops the buffered history; the task's lifecycle is over and
// late watchers should read the durable record instead.
func (n *BroadcastNotifier) TaskReported(taskID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	event := ProgressEvent{Kind: model.ProgressReported, TaskID: taskID}
	for _, ch := range n.subs[taskID] {
		select {
		case ch <- event:
		default:
		}
	}
	delete(n.history, taskID)
}
