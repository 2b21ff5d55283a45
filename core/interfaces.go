package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called from any runner thread.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the current runner)
	// - runnerName: The name of the task runner where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		return
	}
	logger.Error("task panicked",
		F("runner", runnerName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting runner and thread metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(runnerName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordQueueDepth records the number of immediate tasks waiting to run.
	RecordQueueDepth(runnerName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., after Quit).
	RecordTaskRejected(runnerName string, reason string)

	// RecordThreadStarted records that a dedicated task thread published its runner.
	RecordThreadStarted(runnerName string)

	// RecordThreadJoined records that a dedicated task thread was joined after
	// living for lifetime.
	RecordThreadJoined(runnerName string, lifetime time.Duration)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(runnerName string, duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string) {}

// RecordThreadStarted is a no-op.
func (m *NilMetrics) RecordThreadStarted(runnerName string) {}

// RecordThreadJoined is a no-op.
func (m *NilMetrics) RecordThreadJoined(runnerName string, lifetime time.Duration) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is rejected by a runner.
// This happens when a task is posted after Quit or Close.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at debug level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Debug("task rejected", F("runner", runnerName), F("reason", reason))
}

// =============================================================================
// RunnerConfig: Configuration for LoopTaskRunner
// =============================================================================

// RunnerConfig holds configuration options for LoopTaskRunner.
// All handlers are optional; if not provided, default implementations will be used.
type RunnerConfig struct {
	// Name labels logs and metrics. Defaults to "loop".
	Name string

	// Logger defaults to NoOpLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultRunnerConfig returns a config with default handlers.
func DefaultRunnerConfig() *RunnerConfig {
	logger := NewNoOpLogger()
	return &RunnerConfig{
		Name:                "loop",
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
	}
}

// withDefaults fills unset fields; the receiver is not modified.
func (c *RunnerConfig) withDefaults() RunnerConfig {
	out := RunnerConfig{}
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = "loop"
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: out.Logger}
	}
	return out
}
