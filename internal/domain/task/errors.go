package task

import "errors"

// Sentinel errors for envelope decoding.
var (
	ErrUnknownKind   = errors.New("unknown task kind")
	ErrMalformedTask = errors.New("malformed task payload")
	ErrMissingTaskID = errors.New("task id is required")
	ErrNilTask       = errors.New("task is nil")
)
