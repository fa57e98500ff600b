package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"nexoj/internal/judge/model"
)

// Queue is the process-wide priority dispatch queue. Push never blocks;
// Poll parks the caller until a task arrives or the timeout expires. When
// a consumer is already parked, Push hands the task to it directly and the
// heap is never touched.
type Queue struct {
	mu      sync.Mutex
	heap    taskHeap
	waiters []*waiter
	seq     uint64
}

type waiter struct {
	ch chan *model.JudgeTask
}

type heapEntry struct {
	task *model.JudgeTask
	seq  uint64
}

type taskHeap []heapEntry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = heapEntry{}
	*h = old[:n-1]
	return entry
}

// NewQueue creates an empty dispatch queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts a task, ordered by its effective priority (lower first,
// FIFO among equals). If a poller is parked the task goes straight to it.
func (q *Queue) Push(task *model.JudgeTask) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.waiters); n > 0 {
		w := q.waiters[n-1]
		q.waiters = q.waiters[:n-1]
		// Cap-1 channel owned by exactly one Poll call; the send cannot
		// block and cannot be duplicated because the waiter is gone from
		// the list.
		w.ch <- task
		return
	}
	q.seq++
	heap.Push(&q.heap, heapEntry{task: task, seq: q.seq})
}

// Poll returns the next task, waiting up to timeout for one to arrive.
// A nil return means the timeout expired (or ctx was canceled); that is
// normal control flow and callers loop on it while their connection lives.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) *model.JudgeTask {
	q.mu.Lock()
	if q.heap.Len() > 0 {
		entry := heap.Pop(&q.heap).(heapEntry)
		q.mu.Unlock()
		return entry.task
	}
	w := &waiter{ch: make(chan *model.JudgeTask, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case task := <-w.ch:
		return task
	case <-timer.C:
	case <-ctx.Done():
	}

	// Expired or canceled. If a racing Push already claimed this waiter
	// the task is in the channel; deliver it rather than drop it.
	q.mu.Lock()
	removed := q.removeWaiter(w)
	q.mu.Unlock()
	if removed {
		return nil
	}
	return <-w.ch
}

// Len reports the number of queued tasks (parked waiters not included).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Queue) removeWaiter(w *waiter) bool {
	for i, cur := range q.waiters {
		if cur == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
