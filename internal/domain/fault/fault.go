// Package fault classifies errors so callers can decide whether to retry,
// reject synchronously, or give up.
//
// Anything that is not explicitly classified is treated as transient.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindLogic      Kind = "logic"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrLogic      = errors.New("logic error")
)

// Error carries a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	var errs []error
	if s := sentinel(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindLogic:
		return ErrLogic
	default:
		return nil
	}
}

// Validation reports bad caller input.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(resource string, id any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// Conflict reports a uniqueness violation.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Logic wraps a data-integrity bug. Retrying cannot fix it.
func Logic(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindLogic, Err: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
