package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================

// TaskRunner is the thread-safe scheduling surface of a runner.
type TaskRunner interface {
	PostTask(task Task)
	PostDelayedTask(task Task, delay time.Duration)

	// RunsTasksOnCurrentThread reports whether the caller is the runner's own thread.
	RunsTasksOnCurrentThread() bool
}

// RepeatingTaskHandle controls the lifecycle of a repeating task
type RepeatingTaskHandle interface {
	Stop()
	IsStopped() bool
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the runner executing the task that owns ctx.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
