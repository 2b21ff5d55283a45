package taskrunner

import "github.com/Swind/go-thread-task-runner/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskrunner package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// LoopTaskRunner is the single-threaded runner owned by a ThreadTaskRunner
type LoopTaskRunner = core.LoopTaskRunner

// RepeatingTaskHandle controls the lifecycle of a repeating task
type RepeatingTaskHandle = core.RepeatingTaskHandle

// RunnerStats is a snapshot of a LoopTaskRunner
type RunnerStats = core.RunnerStats

// Logger and Metrics are the pluggable ambient interfaces
type (
	Logger  = core.Logger
	Metrics = core.Metrics
)

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner
