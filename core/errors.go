package core

import "errors"

var (
	// ErrRunnerClosed is returned once Quit or Close has been called.
	ErrRunnerClosed = errors.New("task runner is closed")

	// ErrRunnerAlreadyRunning is returned by a second (or reentrant) call to Run.
	ErrRunnerAlreadyRunning = errors.New("task runner is already running")

	// ErrRunnerRunning is returned by Close while Run has not returned yet.
	ErrRunnerRunning = errors.New("task runner is still running")

	// ErrWrongThread is returned by Close when called off the runner's own thread.
	ErrWrongThread = errors.New("task runner closed from a foreign thread")
)
