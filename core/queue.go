package core

import "sync"

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// FIFOTaskQueue is the immediate-task queue of a LoopTaskRunner.
// Push is called from any goroutine; Pop only from the runner's thread.
type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]Task, 0, defaultQueueCap),
	}
}

// Push appends t and returns the new queue length.
func (q *FIFOTaskQueue) Push(t Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return len(q.tasks)
}

func (q *FIFOTaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()

	return t, true
}

func (q *FIFOTaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]Task, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]Task, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all tasks from the queue and releases references
func (q *FIFOTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make([]Task, 0, defaultQueueCap)
}
