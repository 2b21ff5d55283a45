package taskrunner

import "errors"

var (
	// ErrStartupFailed wraps the reason a task thread could not publish its
	// runner. CreateAndStart panics with it; there is no degraded handle.
	ErrStartupFailed = errors.New("task thread startup failed")

	// ErrJoinFromTaskThread is the panic value when a handle is closed from
	// its own task thread, which would join itself.
	ErrJoinFromTaskThread = errors.New("task thread cannot join itself")
)
