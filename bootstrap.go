package taskrunner

import (
	"fmt"
	"runtime"

	"github.com/Swind/go-thread-task-runner/core"
)

// runTaskThread is the body of a task thread. The runner it builds never
// leaves this frame's thread: it is constructed, run and closed here.
//
// The goroutine locks itself to its OS thread and never unlocks, so the
// runtime terminates the thread when the goroutine returns. Closing done is
// the very last thing that happens, after the runner is closed.
func runTaskThread(o *options, hs *handshake, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()

	runner := core.NewLoopTaskRunner(o.runnerConfig())
	defer func() {
		if err := runner.Close(); err != nil {
			o.logger.Error("close task runner", core.F("runner", o.name), core.F("error", err))
		}
	}()

	if err := initialize(o.initializer, runner); err != nil {
		hs.fail(err)
		return
	}

	hs.publish(runner)

	if err := runner.Run(); err != nil {
		o.logger.Error("task runner exited", core.F("runner", o.name), core.F("error", err))
	}
}

// initialize runs fn, turning a panic into an error.
func initialize(fn Initializer, runner *core.LoopTaskRunner) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("initializer panicked: %v", rec)
		}
	}()
	fn(runner)
	return nil
}
