package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrUnhandledTask = errors.New("no handler for task")
	ErrTaskPanicked  = errors.New("task handler panicked")
)
