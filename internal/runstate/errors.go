package runstate

import "errors"

var (
	// ErrNotRunning is returned when no live run is registered
	ErrNotRunning = errors.New("no semrun run is active")
	// ErrMultipleRuns is returned when a lookup without a pid is ambiguous
	ErrMultipleRuns = errors.New("more than one semrun run is active, pick one with --pid")
	// ErrLocked is returned when a run file is held by another process
	ErrLocked = errors.New("run file is locked by another process")
)
