package batch

import (
	"container/heap"
	"sync"
	"time"
)

// taskQueue is a blocking priority queue: priority descending, arrival
// order ascending within a band. Safe for concurrent producers and
// consumers.
type taskQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	notify chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{notify: make(chan struct{}, 1)}
}

// Push enqueues a task and wakes one waiting consumer. The arrival sequence
// is assigned on first enqueue only, so a re-queued task keeps its original
// position within its priority band.
func (q *taskQueue) Push(t *Task) {
	q.mu.Lock()
	if t.seq == 0 {
		q.seq++
		t.seq = q.seq
	}
	heap.Push(&q.items, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the highest-ordered task, waiting up to timeout for one to
// arrive. The second return is false when the wait expired empty.
func (q *taskQueue) Pop(timeout time.Duration) (*Task, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := heap.Pop(&q.items).(*Task)
			q.mu.Unlock()
			return t, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Drain removes and returns every queued task.
func (q *taskQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]*Task, 0, len(q.items))
	for len(q.items) > 0 {
		drained = append(drained, heap.Pop(&q.items).(*Task))
	}
	return drained
}

// Len reports the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// taskHeap implements heap.Interface over tasks using Task.before.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].before(h[j]) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
