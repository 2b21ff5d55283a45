package core

import (
	"container/heap"
	"sync"
	"time"
)

// DelayedTask represents a task scheduled for the future
type DelayedTask struct {
	RunAt    time.Time
	Task     Task
	sequence uint64 // post order, breaks RunAt ties
	index    int    // for heap interface
}

// DelayedTaskHeap implements heap.Interface
type DelayedTaskHeap []*DelayedTask

func (h DelayedTaskHeap) Len() int { return len(h) }
func (h DelayedTaskHeap) Less(i, j int) bool {
	if h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].RunAt.Before(h[j].RunAt)
}
func (h DelayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedTaskHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedTaskHeap) Peek() *DelayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// delayQueue holds the delayed tasks of one LoopTaskRunner. Unlike a
// standalone timer goroutine it is drained by the runner's own loop.
type delayQueue struct {
	mu  sync.Mutex
	pq  DelayedTaskHeap
	seq uint64
}

func newDelayQueue() *delayQueue {
	dq := &delayQueue{pq: make(DelayedTaskHeap, 0)}
	heap.Init(&dq.pq)
	return dq
}

// add schedules task and reports whether it became the earliest entry, in
// which case the loop must recompute its sleep.
func (dq *delayQueue) add(task Task, runAt time.Time) bool {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	dq.seq++
	item := &DelayedTask{
		RunAt:    runAt,
		Task:     task,
		sequence: dq.seq,
	}
	heap.Push(&dq.pq, item)
	return item.index == 0
}

// nextDelay returns how long until the earliest task is due. ok is false
// when nothing is scheduled.
func (dq *delayQueue) nextDelay(now time.Time) (d time.Duration, ok bool) {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	item := dq.pq.Peek()
	if item == nil {
		return 0, false
	}
	if !item.RunAt.After(now) {
		return 0, true
	}
	return item.RunAt.Sub(now), true
}

// popExpired removes every task due at now, earliest first.
func (dq *delayQueue) popExpired(now time.Time) []Task {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	var expired []Task
	for dq.pq.Len() > 0 {
		item := dq.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dq.pq)
		expired = append(expired, item.Task)
	}
	return expired
}

func (dq *delayQueue) clear() {
	dq.mu.Lock()
	dq.pq = make(DelayedTaskHeap, 0)
	heap.Init(&dq.pq)
	dq.mu.Unlock()
}

func (dq *delayQueue) len() int {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.pq)
}
