package api

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when a workflow template is not
	// registered in the catalog.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrRunNotFound is returned when a workflow run is not found.
	ErrRunNotFound = errors.New("workflow run not found")
)

// ValidationError indicates invalid input to an engine operation: an
// unknown template, an empty name, or an agent/command arity mismatch.
// It is always surfaced synchronously to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ExecutionError indicates a failure while executing a run's step, such as
// an event-publish I/O failure. It is terminal for the affected run.
type ExecutionError struct {
	RunID string
	Step  int
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run %s failed at step %d: %v", e.RunID, e.Step, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// IsExecutionError reports whether err is an ExecutionError.
func IsExecutionError(err error) bool {
	var x *ExecutionError
	return errors.As(err, &x)
}
