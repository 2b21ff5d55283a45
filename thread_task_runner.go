package taskrunner

import (
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-thread-task-runner/core"
)

// ThreadTaskRunner owns a dedicated OS thread running a LoopTaskRunner.
// Closing the handle quits the runner and joins the thread. Ownership can be
// transferred with Move and MoveFrom.
//
// Guarantees that:
//   - the LoopTaskRunner is constructed and closed on the task thread
//   - the task thread lives for as long as the LoopTaskRunner
//
// A ThreadTaskRunner must not be copied after first use; pass *ThreadTaskRunner.
// The zero value is an empty handle: Get returns nil and Close does nothing.
type ThreadTaskRunner struct {
	mu sync.Mutex
	st threadState
}

// threadState is everything a handle owns. The zero value is the empty state.
type threadState struct {
	runner  *core.LoopTaskRunner
	done    <-chan struct{}
	name    string
	logger  core.Logger
	metrics core.Metrics
	started time.Time
}

func (s threadState) empty() bool {
	return s.runner == nil
}

// CreateAndStart starts a task thread and blocks until its runner is ready
// to accept work.
//
// Startup failure is fatal: if the thread cannot publish a runner (an
// Initializer panicked), the thread is joined and CreateAndStart panics with
// an error wrapping ErrStartupFailed.
func CreateAndStart(opts ...Option) *ThreadTaskRunner {
	o := newOptions(opts)

	hs := newHandshake()
	done := make(chan struct{})
	go runTaskThread(o, hs, done)

	runner, err := hs.wait()
	if err != nil {
		<-done
		o.logger.Error("task thread failed to start", core.F("runner", o.name), core.F("error", err))
		panic(fmt.Errorf("%w: %s: %w", ErrStartupFailed, o.name, err))
	}

	o.metrics.RecordThreadStarted(o.name)
	o.logger.Debug("task thread started",
		core.F("runner", o.name),
		core.F("thread", runner.Stats().ConstructedOn))

	return &ThreadTaskRunner{
		st: threadState{
			runner:  runner,
			done:    done,
			name:    o.name,
			logger:  o.logger,
			metrics: o.metrics,
			started: time.Now(),
		},
	}
}

// Get returns the runner, or nil if the handle is empty. The pointer stays
// valid for the lifetime of whichever handle owns the thread.
//
// Warning: do not call Quit on the returned runner. Termination is handled
// exclusively by Close; quitting it directly races the handle's own shutdown.
func (t *ThreadTaskRunner) Get() *core.LoopTaskRunner {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.runner
}

// Name returns the runner name, or "" if the handle is empty.
func (t *ThreadTaskRunner) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.name
}

// Empty reports whether the handle owns no thread.
func (t *ThreadTaskRunner) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.empty()
}

// Move transfers the thread to a new handle and leaves t empty.
func (t *ThreadTaskRunner) Move() *ThreadTaskRunner {
	return &ThreadTaskRunner{st: t.take()}
}

// MoveFrom shuts down and joins t's own thread, if any, then takes over
// src's thread. src is left empty. Moving a handle onto itself does nothing.
// Like Close, it panics with ErrJoinFromTaskThread when called from a task
// on t's own thread.
func (t *ThreadTaskRunner) MoveFrom(src *ThreadTaskRunner) {
	if src == nil || src == t {
		return
	}

	// Join without holding t.mu: tasks on the old thread may still use t.
	t.Close()

	st := src.take()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st = st
}

// Close quits the runner and waits for the task thread to exit. When Close
// returns, the runner has been closed on its own thread. Closing an empty
// handle is a no-op, so Close is safe to call repeatedly.
//
// Close panics with ErrJoinFromTaskThread when called from a task running
// on the handle's own thread.
func (t *ThreadTaskRunner) Close() {
	t.mu.Lock()
	if err := t.st.selfJoinError(); err != nil {
		t.mu.Unlock()
		panic(err)
	}
	st := t.st
	t.st = threadState{}
	t.mu.Unlock()

	st.shutdown()
}

// take empties t and returns what it owned.
func (t *ThreadTaskRunner) take() threadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.st
	t.st = threadState{}
	return st
}

// shutdown quits and joins; a no-op on the empty state.
func (s threadState) shutdown() {
	if s.empty() {
		return
	}

	s.runner.Quit()
	<-s.done

	lifetime := time.Since(s.started)
	s.metrics.RecordThreadJoined(s.name, lifetime)
	s.logger.Debug("task thread joined", core.F("runner", s.name), core.F("lifetime", lifetime))
}

// selfJoinError reports whether the caller is the thread s would join.
func (s threadState) selfJoinError() error {
	if !s.empty() && s.runner.RunsTasksOnCurrentThread() {
		return fmt.Errorf("%w: %s", ErrJoinFromTaskThread, s.name)
	}
	return nil
}
