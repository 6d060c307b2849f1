package task

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a task.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
)

// Terminal reports whether no further transitions will happen.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Failure describes why a task gave up.
type Failure struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// Status is what callers see when polling a task id.
type Status struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	State     State           `json:"state"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
