package engine

import (
	"errors"
	"fmt"
)

// ReplayErrorCode categorizes replay defects.
type ReplayErrorCode string

const (
	// ErrCodeUnexpectedBreadcrumb indicates the breadcrumb at the cursor is
	// not the kind the task asked for: replay diverged from history.
	ErrCodeUnexpectedBreadcrumb ReplayErrorCode = "UNEXPECTED_BREADCRUMB"

	// ErrCodeInvalidBreadcrumb indicates a breadcrumb of the right kind
	// with unusable data (empty child id, nil Time).
	ErrCodeInvalidBreadcrumb ReplayErrorCode = "INVALID_BREADCRUMB"

	// ErrCodeMissingSeed indicates a log that does not start with Advance.
	ErrCodeMissingSeed ReplayErrorCode = "MISSING_SEED"
)

// ReplayError is a fatal defect found while replaying a task's log. It is
// never retried: replaying the same log would reproduce it.
type ReplayError struct {
	// Code identifies the defect.
	Code ReplayErrorCode

	// ActivityID identifies the task.
	ActivityID string

	// Index is the position in the log where the defect was found.
	Index int

	// Expected and Actual are breadcrumb kinds. Actual is empty when the log
	// ended early.
	Expected string
	Actual   string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("%s: %s (activity=%s, index=%d, expected=%s, actual=%s)",
		e.Code, e.Message, e.ActivityID, e.Index, e.Expected, e.Actual)
}

// IsReplayError returns true if err is or wraps a *ReplayError.
func IsReplayError(err error) bool {
	var re *ReplayError
	return errors.As(err, &re)
}

// IsDivergence returns true if err is an UNEXPECTED_BREADCRUMB replay error.
func IsDivergence(err error) bool {
	var re *ReplayError
	return errors.As(err, &re) && re.Code == ErrCodeUnexpectedBreadcrumb
}

// SuspendedError is returned by a primitive once the task has parked. The
// task should return it (or any error) promptly; its state is irrelevant
// to the outcome, which is Suspended regardless.
type SuspendedError struct {
	Kind SuspensionKind
}

// Error implements the error interface.
func (e *SuspendedError) Error() string {
	return fmt.Sprintf("task suspended (%s)", e.Kind)
}

// IsSuspended returns true if err is the parked signal. Tasks that wrap
// primitive errors can use it to skip their own error handling.
func IsSuspended(err error) bool {
	var se *SuspendedError
	return errors.As(err, &se)
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	ActivityID string
	Value      any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("activity %s panicked: %v", e.ActivityID, e.Value)
}
