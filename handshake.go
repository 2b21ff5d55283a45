package taskrunner

import "github.com/Swind/go-thread-task-runner/core"

// publication is the single message a task thread sends to its creator.
type publication struct {
	runner *core.LoopTaskRunner
	err    error
}

// handshake hands the runner from the task thread to the goroutine blocked
// in CreateAndStart. It carries exactly one publication; the channel
// send/receive pair orders everything the task thread did before publishing
// ahead of everything the creator does after receiving.
type handshake struct {
	ch chan publication
}

func newHandshake() *handshake {
	return &handshake{ch: make(chan publication, 1)}
}

// publish never blocks; the bootstrap calls it once.
func (h *handshake) publish(runner *core.LoopTaskRunner) {
	h.ch <- publication{runner: runner}
}

func (h *handshake) fail(err error) {
	h.ch <- publication{err: err}
}

func (h *handshake) wait() (*core.LoopTaskRunner, error) {
	p := <-h.ch
	return p.runner, p.err
}
