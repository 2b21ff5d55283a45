package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// LoopTaskRunner is a single-threaded cooperative task runner.
//
// Its lifecycle is driven by whoever owns the thread it lives on:
//
//	runtime.LockOSThread()
//	r := NewLoopTaskRunner(cfg) // constructed on the owning thread
//	_ = r.Run()                 // blocks until Quit
//	_ = r.Close()               // released on the same thread
//
// Every other goroutine may only use the thread-safe methods: PostTask,
// PostDelayedTask, PostRepeatingTask, WaitIdle, Quit,
// RunsTasksOnCurrentThread, Name and Stats.
//
// Key differences from the pooled runners:
// - Tasks execute sequentially AND always on the same OS thread
// - Quit does not drain the queue; tasks still queued are dropped
type LoopTaskRunner struct {
	name            string
	logger          Logger
	panicHandler    PanicHandler
	metrics         Metrics
	rejectedHandler RejectedTaskHandler

	queue   *FIFOTaskQueue
	delayed *delayQueue
	wakeup  chan struct{}

	state    atomic.Int32
	quitting atomic.Bool
	quitCh   chan struct{} // closed once quitting is set
	quitOnce sync.Once
	closeMu  sync.Mutex

	constructedOn int64
	ranOn         atomic.Int64
	closedOn      atomic.Int64

	executed   atomic.Uint64
	panicked   atomic.Uint64
	rejected   atomic.Int64
	lastTaskAt atomic.Int64 // unix nanos
}

var _ TaskRunner = (*LoopTaskRunner)(nil)

// NewLoopTaskRunner constructs a runner owned by the calling thread. The
// caller should already be locked to its OS thread.
func NewLoopTaskRunner(cfg *RunnerConfig) *LoopTaskRunner {
	c := cfg.withDefaults()
	return &LoopTaskRunner{
		name:            c.Name,
		logger:          c.Logger,
		panicHandler:    c.PanicHandler,
		metrics:         c.Metrics,
		rejectedHandler: c.RejectedTaskHandler,
		queue:           NewFIFOTaskQueue(),
		delayed:         newDelayQueue(),
		wakeup:          make(chan struct{}, 1),
		quitCh:          make(chan struct{}),
		constructedOn:   CurrentThreadID(),
	}
}

// Name returns the name of the task runner
func (r *LoopTaskRunner) Name() string {
	return r.name
}

// Run executes tasks on the calling thread until Quit is honored.
//
// Returns ErrRunnerAlreadyRunning when the runner is already inside Run
// (including a reentrant call from one of its own tasks) and ErrRunnerClosed
// once the runner has stopped or been closed.
func (r *LoopTaskRunner) Run() error {
	if !r.state.CompareAndSwap(int32(RunnerCreated), int32(RunnerRunning)) {
		if RunnerState(r.state.Load()) == RunnerRunning {
			return ErrRunnerAlreadyRunning
		}
		return ErrRunnerClosed
	}
	defer r.state.Store(int32(RunnerStopped))

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid := CurrentThreadID()
	r.ranOn.Store(tid)
	r.logger.Debug("run loop started", F("runner", r.name), F("thread", tid))

	ctx := context.WithValue(context.Background(), taskRunnerKey, r)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for !r.quitting.Load() {
		for _, task := range r.delayed.popExpired(time.Now()) {
			r.queue.Push(task)
		}

		if task, ok := r.queue.Pop(); ok {
			r.runTask(ctx, task)
			continue
		}

		var timerC <-chan time.Time
		if d, ok := r.delayed.nextDelay(time.Now()); ok {
			if d <= 0 {
				continue
			}
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-r.wakeup:
		case <-timerC:
		}
		timer.Stop()
	}

	r.logger.Debug("run loop quit",
		F("runner", r.name),
		F("thread", tid),
		F("dropped", r.queue.Len()+r.delayed.len()))
	return nil
}

// runTask executes one task, converting a panic into a PanicHandler call.
func (r *LoopTaskRunner) runTask(ctx context.Context, task Task) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.panicked.Add(1)
			r.metrics.RecordTaskPanic(r.name, rec)
			r.panicHandler.HandlePanic(ctx, r.name, rec, debug.Stack())
		}
		now := time.Now()
		r.executed.Add(1)
		r.lastTaskAt.Store(now.UnixNano())
		r.metrics.RecordTaskDuration(r.name, now.Sub(start))
	}()
	task(ctx)
}

// Quit makes Run return after the task currently executing, if any.
// Safe to call from any goroutine, any number of times. Tasks still queued
// are not executed.
func (r *LoopTaskRunner) Quit() {
	r.markQuitting()
	r.wake()
}

func (r *LoopTaskRunner) markQuitting() {
	r.quitting.Store(true)
	r.quitOnce.Do(func() { close(r.quitCh) })
}

// IsQuitting reports whether Quit (or Close) has been called.
func (r *LoopTaskRunner) IsQuitting() bool {
	return r.quitting.Load()
}

// PostTask submits a task for execution, FIFO with respect to other
// immediate tasks.
func (r *LoopTaskRunner) PostTask(task Task) {
	if task == nil {
		return
	}
	r.post(task)
}

// post queues task and reports whether it was accepted.
func (r *LoopTaskRunner) post(task Task) bool {
	if reason, ok := r.rejectReason(); ok {
		r.reject(reason)
		return false
	}
	depth := r.queue.Push(task)
	r.metrics.RecordQueueDepth(r.name, depth)
	r.wake()
	return true
}

// PostDelayedTask submits a task to run no earlier than delay from now.
// Delayed tasks due at the same instant run in post order.
func (r *LoopTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	if delay <= 0 {
		r.PostTask(task)
		return
	}
	if task == nil {
		return
	}
	if reason, ok := r.rejectReason(); ok {
		r.reject(reason)
		return
	}
	if r.delayed.add(task, time.Now().Add(delay)) {
		r.wake()
	}
}

// RunsTasksOnCurrentThread reports whether the caller is executing on the
// thread currently inside Run.
func (r *LoopTaskRunner) RunsTasksOnCurrentThread() bool {
	if RunnerState(r.state.Load()) != RunnerRunning {
		return false
	}
	ranOn := r.ranOn.Load()
	return ranOn != 0 && ranOn == CurrentThreadID()
}

// Close releases the runner. It must be called on the thread that
// constructed the runner, after Run has returned (or if Run never started).
// Queued and delayed tasks are discarded. Repeated calls return nil.
func (r *LoopTaskRunner) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()

	for {
		s := RunnerState(r.state.Load())
		switch s {
		case RunnerClosed:
			return nil
		case RunnerRunning:
			return ErrRunnerRunning
		}

		tid := CurrentThreadID()
		if tid != r.constructedOn {
			return ErrWrongThread
		}

		if r.state.CompareAndSwap(int32(s), int32(RunnerClosed)) {
			r.markQuitting()
			r.closedOn.Store(tid)
			break
		}
	}

	r.queue.Clear()
	r.delayed.clear()
	return nil
}

// Stats returns a point-in-time snapshot of the runner.
func (r *LoopTaskRunner) Stats() RunnerStats {
	stats := RunnerStats{
		Name:          r.name,
		State:         RunnerState(r.state.Load()),
		Pending:       r.queue.Len(),
		Delayed:       r.delayed.len(),
		Executed:      r.executed.Load(),
		Panicked:      r.panicked.Load(),
		Rejected:      r.rejected.Load(),
		Quitting:      r.quitting.Load(),
		ConstructedOn: r.constructedOn,
		RanOn:         r.ranOn.Load(),
		ClosedOn:      r.closedOn.Load(),
	}
	if ns := r.lastTaskAt.Load(); ns != 0 {
		stats.LastTaskAt = time.Unix(0, ns)
	}
	return stats
}

func (r *LoopTaskRunner) rejectReason() (string, bool) {
	if RunnerState(r.state.Load()) == RunnerClosed {
		return "closed", true
	}
	if r.quitting.Load() {
		return "quit", true
	}
	return "", false
}

func (r *LoopTaskRunner) reject(reason string) {
	r.rejected.Add(1)
	r.metrics.RecordTaskRejected(r.name, reason)
	r.rejectedHandler.HandleRejectedTask(r.name, reason)
}

func (r *LoopTaskRunner) wake() {
	select {
	case r.wakeup <- struct{}{}:
	default:
	}
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued tasks have completed execution.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns error if:
// - Context is cancelled or deadline exceeded
// - Runner quits before the barrier runs (ErrRunnerClosed)
//
// Note: Delayed tasks that are not yet due are not waited for.
// Note: Must not be called from a task running on this runner.
func (r *LoopTaskRunner) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})

	// Post a barrier task that closes the done channel
	if !r.post(func(context.Context) { close(done) }) {
		return ErrRunnerClosed
	}

	select {
	case <-done:
		return nil
	case <-r.quitCh:
		// The barrier may have run just before Quit.
		select {
		case <-done:
			return nil
		default:
			return ErrRunnerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
