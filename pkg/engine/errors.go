package engine

import (
	"errors"
	"fmt"
)

// PlayError reports a structural problem with a play itself, such as a
// host pattern that expands to no hosts. It aborts that play only; the
// orchestrator continues with the remaining plays and surfaces the
// joined errors to the caller.
type PlayError struct {
	// Play is the name of the affected play.
	Play string

	// Message describes the structural problem.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *PlayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("play %q: %s: %v", e.Play, e.Message, e.Err)
	}
	return fmt.Sprintf("play %q: %s", e.Play, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PlayError) Unwrap() error {
	return e.Err
}

// NewPlayError creates a play error.
func NewPlayError(play, message string) *PlayError {
	return &PlayError{Play: play, Message: message}
}

// IsPlayError reports whether err is (or wraps) a PlayError.
func IsPlayError(err error) bool {
	var e *PlayError
	return errors.As(err, &e)
}
