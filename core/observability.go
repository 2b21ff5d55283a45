package core

import "time"

// RunnerState is the lifecycle stage of a LoopTaskRunner.
type RunnerState int32

const (
	// RunnerCreated: constructed, Run not called yet.
	RunnerCreated RunnerState = iota
	// RunnerRunning: inside Run.
	RunnerRunning
	// RunnerStopped: Run returned after Quit.
	RunnerStopped
	// RunnerClosed: Close released the runner.
	RunnerClosed
)

func (s RunnerState) String() string {
	switch s {
	case RunnerCreated:
		return "created"
	case RunnerRunning:
		return "running"
	case RunnerStopped:
		return "stopped"
	case RunnerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RunnerStats represents runtime observability state for a task runner.
type RunnerStats struct {
	Name     string
	State    RunnerState
	Pending  int
	Delayed  int
	Executed uint64
	Panicked uint64
	Rejected int64
	Quitting bool

	// OS thread IDs the runner was constructed, run and closed on (0 = not yet).
	ConstructedOn int64
	RanOn         int64
	ClosedOn      int64

	LastTaskAt time.Time
}
