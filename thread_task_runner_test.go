package taskrunner_test

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	taskrunner "github.com/Swind/go-thread-task-runner"
	"github.com/Swind/go-thread-task-runner/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateAndStart_ReadyOnReturn tests that a new handle accepts work immediately
// Given: A freshly created handle
// When: A task is posted right after CreateAndStart returns
// Then: Get is non-nil, the runner is running, and the task executes
func TestCreateAndStart_ReadyOnReturn(t *testing.T) {
	h := taskrunner.CreateAndStart()
	defer h.Close()

	runner := h.Get()
	require.NotNil(t, runner)
	assert.False(t, h.Empty())

	ran := make(chan struct{})
	runner.PostTask(func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task posted right after CreateAndStart never ran")
	}
}

// TestThreadTaskRunner_SequenceOrder tests two posted tasks run in order
// Given: A handle
// When: Tasks appending 1 then 2 are posted
// Then: The sequence observed is [1, 2]
func TestThreadTaskRunner_SequenceOrder(t *testing.T) {
	h := taskrunner.CreateAndStart()
	defer h.Close()

	var seq []int
	done := make(chan struct{})
	h.Get().PostTask(func(ctx context.Context) { seq = append(seq, 1) })
	h.Get().PostTask(func(ctx context.Context) {
		seq = append(seq, 2)
		close(done)
	})

	<-done
	assert.Equal(t, []int{1, 2}, seq)
}

// TestThreadTaskRunner_Move tests that Move transfers and never duplicates
// Given: Handle h1 with runner p
// When: h2 := h1.Move()
// Then: h1.Get() is nil, h2.Get() is p, closing h1 is a no-op and h2 keeps working
func TestThreadTaskRunner_Move(t *testing.T) {
	h1 := taskrunner.CreateAndStart()
	p := h1.Get()

	h2 := h1.Move()
	defer h2.Close()

	assert.Nil(t, h1.Get())
	assert.True(t, h1.Empty())
	assert.Same(t, p, h2.Get())

	h1.Close()
	h1.Close()

	assert.Equal(t, core.RunnerRunning, p.Stats().State)
	require.NoError(t, waitIdle(p))
}

// TestThreadTaskRunner_MoveFromLiveHandle tests move assignment over a live thread
// Given: Two live handles a and b
// When: a.MoveFrom(b)
// Then: a's old runner was closed on its thread before MoveFrom returned, a owns b's runner, b is empty
func TestThreadTaskRunner_MoveFromLiveHandle(t *testing.T) {
	a := taskrunner.CreateAndStart(taskrunner.WithName("a"))
	b := taskrunner.CreateAndStart(taskrunner.WithName("b"))
	defer a.Close()
	defer b.Close()

	oldA := a.Get()
	pb := b.Get()

	a.MoveFrom(b)

	stats := oldA.Stats()
	assert.Equal(t, core.RunnerClosed, stats.State)
	assert.Equal(t, stats.ConstructedOn, stats.ClosedOn)

	assert.Same(t, pb, a.Get())
	assert.Equal(t, "b", a.Name())
	assert.Nil(t, b.Get())
	assert.Equal(t, "", b.Name())
	require.NoError(t, waitIdle(a.Get()))
}

// TestThreadTaskRunner_MoveFromOldTaskUsesHandle tests joining while a task reads the handle
// Given: Handle a running a task that, once quitting, calls a.Get()
// When: a.MoveFrom(b) joins a's old thread
// Then: The task's a.Get() returns and MoveFrom completes
func TestThreadTaskRunner_MoveFromOldTaskUsesHandle(t *testing.T) {
	a := taskrunner.CreateAndStart(taskrunner.WithName("a"))
	b := taskrunner.CreateAndStart(taskrunner.WithName("b"))
	defer a.Close()
	defer b.Close()

	oldA := a.Get()
	pb := b.Get()

	started := make(chan struct{})
	var sawGet atomic.Bool
	oldA.PostTask(func(ctx context.Context) {
		close(started)
		for !oldA.IsQuitting() {
			time.Sleep(time.Millisecond)
		}
		_ = a.Get()
		sawGet.Store(true)
	})
	<-started

	moved := make(chan struct{})
	go func() {
		a.MoveFrom(b)
		close(moved)
	}()

	select {
	case <-moved:
	case <-time.After(5 * time.Second):
		t.Fatal("MoveFrom did not return while the old thread's task used the handle")
	}

	assert.True(t, sawGet.Load())
	assert.Equal(t, core.RunnerClosed, oldA.Stats().State)
	assert.Same(t, pb, a.Get())
}

// TestThreadTaskRunner_MoveFromTaskThreadPanics tests the self-join guard on move assignment
func TestThreadTaskRunner_MoveFromTaskThreadPanics(t *testing.T) {
	a := taskrunner.CreateAndStart()
	b := taskrunner.CreateAndStart()
	defer a.Close()
	defer b.Close()
	pb := b.Get()

	recovered := make(chan any, 1)
	a.Get().PostTask(func(ctx context.Context) {
		defer func() { recovered <- recover() }()
		a.MoveFrom(b)
	})

	err, ok := (<-recovered).(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, taskrunner.ErrJoinFromTaskThread)
	assert.Same(t, pb, b.Get(), "source is untouched when the move panics")
	assert.False(t, a.Empty())
}

// TestThreadTaskRunner_MoveFromEdgeCases tests self, nil and empty moves
func TestThreadTaskRunner_MoveFromEdgeCases(t *testing.T) {
	h := taskrunner.CreateAndStart()
	defer h.Close()
	p := h.Get()

	h.MoveFrom(h)
	assert.Same(t, p, h.Get(), "self move keeps the thread")

	h.MoveFrom(nil)
	assert.Same(t, p, h.Get(), "nil source is ignored")

	var empty taskrunner.ThreadTaskRunner
	empty.MoveFrom(h)
	assert.Same(t, p, empty.Get())
	assert.True(t, h.Empty())

	h.MoveFrom(&taskrunner.ThreadTaskRunner{})
	assert.True(t, h.Empty(), "adopting an empty handle leaves an empty handle")
	empty.Close()
	assert.Equal(t, core.RunnerClosed, p.Stats().State)
}

// TestThreadTaskRunner_ZeroValue tests that the zero value is an empty handle
func TestThreadTaskRunner_ZeroValue(t *testing.T) {
	var h taskrunner.ThreadTaskRunner

	assert.Nil(t, h.Get())
	assert.True(t, h.Empty())
	assert.NotPanics(t, h.Close)
	assert.Nil(t, h.Move().Get())
}

// TestThreadTaskRunner_CloseJoins tests that Close returns only after teardown
// Given: A handle that ran a task
// When: Close returns
// Then: The runner is closed, on the same OS thread it was constructed and run on
func TestThreadTaskRunner_CloseJoins(t *testing.T) {
	h := taskrunner.CreateAndStart()
	p := h.Get()

	var taskThread atomic.Int64
	p.PostTask(func(ctx context.Context) { taskThread.Store(core.CurrentThreadID()) })
	require.NoError(t, waitIdle(p))

	h.Close()

	stats := p.Stats()
	assert.Equal(t, core.RunnerClosed, stats.State)
	assert.NotZero(t, stats.ConstructedOn)
	assert.Equal(t, stats.ConstructedOn, stats.RanOn)
	assert.Equal(t, stats.ConstructedOn, stats.ClosedOn)
	assert.Equal(t, stats.ConstructedOn, taskThread.Load())
	assert.True(t, h.Empty())
}

// TestThreadTaskRunner_CreateAndCloseIdle tests closing a handle that never got work
// Given: A handle with no posted tasks
// When: It is closed immediately
// Then: Close returns promptly and the runner executed nothing
func TestThreadTaskRunner_CreateAndCloseIdle(t *testing.T) {
	h := taskrunner.CreateAndStart()
	p := h.Get()

	closed := make(chan struct{})
	go func() {
		h.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung on an idle handle")
	}

	stats := p.Stats()
	assert.Equal(t, uint64(0), stats.Executed)
	assert.Equal(t, int64(0), stats.Rejected)
}

// TestThreadTaskRunner_CloseDoesNotDrain documents that pending tasks may be dropped
func TestThreadTaskRunner_CloseDoesNotDrain(t *testing.T) {
	h := taskrunner.CreateAndStart()
	p := h.Get()

	started := make(chan struct{})
	release := make(chan struct{})
	p.PostTask(func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	var queued atomic.Bool
	p.PostTask(func(ctx context.Context) { queued.Store(true) })

	go func() {
		// Close has called Quit by the time the runner reports quitting.
		for !p.IsQuitting() {
			time.Sleep(time.Millisecond)
		}
		close(release)
	}()
	h.Close()

	assert.False(t, queued.Load())
}

// TestThreadTaskRunner_CloseFromTaskThreadPanics tests the self-join guard
// Given: A handle
// When: A task on its own thread calls Close
// Then: Close panics with ErrJoinFromTaskThread and the handle is still usable
func TestThreadTaskRunner_CloseFromTaskThreadPanics(t *testing.T) {
	h := taskrunner.CreateAndStart()

	recovered := make(chan any, 1)
	h.Get().PostTask(func(ctx context.Context) {
		defer func() { recovered <- recover() }()
		h.Close()
	})

	rec := <-recovered
	err, ok := rec.(error)
	require.True(t, ok, "panic value %v is not an error", rec)
	assert.ErrorIs(t, err, taskrunner.ErrJoinFromTaskThread)

	assert.False(t, h.Empty())
	h.Close()
	assert.True(t, h.Empty())
}

// TestCreateAndStart_InitializerRunsOnTaskThread tests the initializer hook
// Given: An initializer recording its thread and posting a task
// When: CreateAndStart returns
// Then: The initializer already ran on the task thread and its task runs first
func TestCreateAndStart_InitializerRunsOnTaskThread(t *testing.T) {
	var initThread int64
	var order []string

	h := taskrunner.CreateAndStart(taskrunner.WithInitializer(func(r *core.LoopTaskRunner) {
		initThread = core.CurrentThreadID()
		r.PostTask(func(ctx context.Context) { order = append(order, "init") })
	}))
	defer h.Close()

	// No extra synchronization: publication orders the initializer's writes.
	assert.Equal(t, h.Get().Stats().ConstructedOn, initThread)

	done := make(chan struct{})
	h.Get().PostTask(func(ctx context.Context) {
		order = append(order, "caller")
		close(done)
	})
	<-done
	assert.Equal(t, []string{"init", "caller"}, order)
}

// TestCreateAndStart_StartupFailureIsFatal tests the fatal startup path
// Given: An initializer that panics
// When: CreateAndStart is called
// Then: It panics with ErrStartupFailed after the task thread has exited
func TestCreateAndStart_StartupFailureIsFatal(t *testing.T) {
	before := runtime.NumGoroutine()

	var buf bytes.Buffer
	logger := core.NewWriterLogger(&buf, zerolog.DebugLevel)

	var rec any
	func() {
		defer func() { rec = recover() }()
		taskrunner.CreateAndStart(
			taskrunner.WithName("broken"),
			taskrunner.WithLogger(logger),
			taskrunner.WithInitializer(func(*core.LoopTaskRunner) { panic("no device") }),
		)
	}()

	err, ok := rec.(error)
	require.True(t, ok, "panic value %v is not an error", rec)
	assert.ErrorIs(t, err, taskrunner.ErrStartupFailed)
	assert.Contains(t, err.Error(), "no device")
	assert.Contains(t, buf.String(), "task thread failed to start")

	assertGoroutinesAtMost(t, before, "task goroutine was joined")
}

// TestThreadTaskRunner_NoLeakAcrossCycles tests repeated create/close cycles
// Given: The current goroutine count
// When: 100 handles are created, used and closed one after another
// Then: The goroutine count returns to where it started
func TestThreadTaskRunner_NoLeakAcrossCycles(t *testing.T) {
	before := runtime.NumGoroutine()

	for range 100 {
		h := taskrunner.CreateAndStart()
		h.Get().PostTask(func(ctx context.Context) {})
		h.Close()
	}

	assertGoroutinesAtMost(t, before, "task goroutines leaked across cycles")
}

// TestThreadTaskRunner_DistinctThreads tests that every handle has its own thread
func TestThreadTaskRunner_DistinctThreads(t *testing.T) {
	const n = 16
	handles := make([]*taskrunner.ThreadTaskRunner, n)
	for i := range handles {
		handles[i] = taskrunner.CreateAndStart()
	}

	threads := make(map[int64]bool)
	for _, h := range handles {
		threads[h.Get().Stats().ConstructedOn] = true
	}
	assert.Len(t, threads, n)

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Close()
		}()
	}
	wg.Wait()
}

// TestThreadTaskRunner_ObservabilityHooks tests logging and metrics wiring
// Given: A handle with a debug logger and recording metrics
// When: It runs a task and is closed
// Then: Start and join are logged and counted once each
func TestThreadTaskRunner_ObservabilityHooks(t *testing.T) {
	var buf bytes.Buffer
	metrics := &recordingMetrics{}

	h := taskrunner.CreateAndStart(
		taskrunner.WithName("observed"),
		taskrunner.WithLogger(core.NewWriterLogger(&buf, zerolog.DebugLevel)),
		taskrunner.WithMetrics(metrics),
	)
	assert.Equal(t, "observed", h.Name())
	require.NoError(t, waitIdle(h.Get()))
	h.Close()

	started, joined := metrics.threads()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, joined)
	assert.Contains(t, buf.String(), "task thread started")
	assert.Contains(t, buf.String(), "task thread joined")
	assert.Contains(t, buf.String(), `"runner":"observed"`)
}

func TestCreateAndStart_DefaultNames(t *testing.T) {
	a := taskrunner.CreateAndStart()
	b := taskrunner.CreateAndStart()
	defer a.Close()
	defer b.Close()

	assert.Contains(t, a.Name(), "task-thread-")
	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, a.Name(), a.Get().Name())
}

func TestCreateAndStart_HandlersReachRunner(t *testing.T) {
	var rejected atomic.Int32
	var panicked atomic.Int32

	h := taskrunner.CreateAndStart(
		taskrunner.WithPanicHandler(panicHandlerFunc(func() { panicked.Add(1) })),
		taskrunner.WithRejectedTaskHandler(rejectedHandlerFunc(func() { rejected.Add(1) })),
	)
	p := h.Get()

	p.PostTask(func(ctx context.Context) { panic("boom") })
	require.NoError(t, waitIdle(p))
	h.Close()

	p.PostTask(func(ctx context.Context) {})

	assert.Equal(t, int32(1), panicked.Load())
	assert.Equal(t, int32(1), rejected.Load())
}

// assertGoroutinesAtMost polls on the test goroutine itself so the check
// does not count a goroutine of its own.
func assertGoroutinesAtMost(t *testing.T, want int, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	n := runtime.NumGoroutine()
	for n > want && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		n = runtime.NumGoroutine()
	}
	assert.LessOrEqual(t, n, want, msg)
}

func waitIdle(r *core.LoopTaskRunner) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.WaitIdle(ctx)
}

type recordingMetrics struct {
	core.NilMetrics
	mu      sync.Mutex
	started int
	joined  int
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

func (m *recordingMetrics) threads() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.joined
}

type panicHandlerFunc func()

func (f panicHandlerFunc) HandlePanic(context.Context, string, any, []byte) { f() }

type rejectedHandlerFunc func()

func (f rejectedHandlerFunc) HandleRejectedTask(string, string) { f() }
