package scheduler

import (
	"container/heap"
	"sync"
)

// Queue is a thread-safe priority queue of tasks ordered by (priority,
// scheduledFor). It does not block; the scheduler polls it.
type Queue struct {
	mu    sync.Mutex
	tasks taskHeap
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push adds a task.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.tasks, t)
}

// Pop removes and returns the most urgent task, or false when empty.
func (q *Queue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil, false
	}
	t, ok := heap.Pop(&q.tasks).(*Task)
	return t, ok
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

type taskHeap []*Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	task, ok := x.(*Task)
	if !ok {
		return
	}
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
