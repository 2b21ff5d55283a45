package core

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
)

// testLoop drives a LoopTaskRunner the way a task thread does: construct,
// run and close on one locked goroutine.
type testLoop struct {
	runner   *LoopTaskRunner
	done     chan struct{}
	runErr   error
	closeErr error
}

func startTestLoop(t *testing.T, cfg *RunnerConfig) *testLoop {
	t.Helper()
	l := &testLoop{done: make(chan struct{})}
	ready := make(chan struct{})
	go func() {
		defer close(l.done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		l.runner = NewLoopTaskRunner(cfg)
		close(ready)
		l.runErr = l.runner.Run()
		l.closeErr = l.runner.Close()
	}()
	<-ready
	t.Cleanup(l.stop)
	return l
}

// stop quits the runner and waits for the loop goroutine to exit.
func (l *testLoop) stop() {
	l.runner.Quit()
	<-l.done
}

// onLockedThread runs fn on a fresh goroutine locked to its own OS thread.
func onLockedThread(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
	<-done
}

func waitIdle(t *testing.T, r *LoopTaskRunner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

type recordingMetrics struct {
	mu        sync.Mutex
	durations int
	panics    int
	depths    []int
	rejected  []string
	started   int
	joined    int
}

func (m *recordingMetrics) RecordTaskDuration(string, time.Duration) {
	m.mu.Lock()
	m.durations++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTaskPanic(string, any) {
	m.mu.Lock()
	m.panics++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordQueueDepth(_ string, depth int) {
	m.mu.Lock()
	m.depths = append(m.depths, depth)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTaskRejected(_ string, reason string) {
	m.mu.Lock()
	m.rejected = append(m.rejected, reason)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordThreadStarted(string) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordThreadJoined(string, time.Duration) {
	m.mu.Lock()
	m.joined++
	m.mu.Unlock()
}

type metricsSnapshot struct {
	durations int
	panics    int
	depths    []int
	rejected  []string
	started   int
	joined    int
}

func (m *recordingMetrics) snapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricsSnapshot{
		durations: m.durations,
		panics:    m.panics,
		depths:    append([]int(nil), m.depths...),
		rejected:  append([]string(nil), m.rejected...),
		started:   m.started,
		joined:    m.joined,
	}
}

type recordingPanicHandler struct {
	mu     sync.Mutex
	values []any
	runner TaskRunner
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, panicInfo)
	h.runner = GetCurrentTaskRunner(ctx)
}
