package core

import (
	"context"
	"sync/atomic"
	"time"
)

// PostRepeatingTask runs task now and then every interval until the returned
// handle is stopped or the runner quits.
func (r *LoopTaskRunner) PostRepeatingTask(task Task, interval time.Duration) RepeatingTaskHandle {
	return r.PostRepeatingTaskWithInitialDelay(task, 0, interval)
}

// PostRepeatingTaskWithInitialDelay is PostRepeatingTask with the first run
// postponed by initialDelay.
func (r *LoopTaskRunner) PostRepeatingTaskWithInitialDelay(task Task, initialDelay, interval time.Duration) RepeatingTaskHandle {
	handle := &repeatingHandle{
		runner:   r,
		task:     task,
		interval: interval,
	}

	r.PostDelayedTask(handle.createRepeatingTask(), initialDelay)

	return handle
}

// =============================================================================
// Repeating Task Handle for LoopTaskRunner
// =============================================================================

type repeatingHandle struct {
	runner   *LoopTaskRunner
	task     Task
	interval time.Duration
	stopped  atomic.Bool
}

func (h *repeatingHandle) Stop() {
	h.stopped.Store(true)
}

func (h *repeatingHandle) IsStopped() bool {
	return h.stopped.Load()
}

func (h *repeatingHandle) createRepeatingTask() Task {
	return func(ctx context.Context) {
		if h.runner.IsQuitting() || h.IsStopped() {
			return
		}

		h.task(ctx)

		// Reschedule if not stopped and runner is still open
		if !h.IsStopped() && !h.runner.IsQuitting() {
			h.runner.PostDelayedTask(h.createRepeatingTask(), h.interval)
		}
	}
}
