package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/rally/internal/domain/fault"
)

// Envelope is the queued form of a task.
type Envelope struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Attempt int    `json:"attempt"`
	// EnqueuedAt is set once, on first submission, and survives retries.
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`

	// Receipt identifies the delivery for acknowledgement. Queue specific.
	Receipt string `json:"-"`
}

// Encode wraps t into a first-attempt envelope.
func Encode(id string, t Task, now time.Time) (Envelope, error) {
	if t == nil {
		return Envelope{}, fault.Logic(ErrNilTask)
	}
	if id == "" {
		return Envelope{}, fault.Logic(ErrMissingTaskID)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return Envelope{}, fault.Logic(fmt.Errorf("%w: %v", ErrMalformedTask, err))
	}
	return Envelope{
		ID:         id,
		Kind:       t.Kind(),
		Attempt:    1,
		EnqueuedAt: now.UTC(),
		Payload:    payload,
	}, nil
}

// Decode returns the typed task carried by e.
func (e Envelope) Decode() (Task, error) {
	var (
		t   Task
		err error
	)
	switch e.Kind {
	case KindRecomputeScore:
		t, err = decodeAs[RecomputeScore](e.Payload)
	case KindPersistCheckins:
		t, err = decodeAs[PersistCheckins](e.Payload)
	case KindCreateTeam:
		t, err = decodeAs[CreateTeam](e.Payload)
	case KindJoinTeam:
		t, err = decodeAs[JoinTeam](e.Payload)
	case KindRegisterUser:
		t, err = decodeAs[RegisterUser](e.Payload)
	default:
		return nil, fault.Logic(fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind))
	}
	if err != nil {
		return nil, fault.Logic(fmt.Errorf("%w: %s: %v", ErrMalformedTask, e.Kind, err))
	}
	return t, nil
}

func decodeAs[T Task](payload json.RawMessage) (Task, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Marshal serializes the envelope for an external queue.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope read from an external queue.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fault.Logic(fmt.Errorf("%w: %v", ErrMalformedTask, err))
	}
	return e, nil
}
