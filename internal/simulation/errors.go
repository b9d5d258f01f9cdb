package simulation

import (
	"errors"
	"fmt"
)

// RunErrorCode categorizes errors that terminate a run.
type RunErrorCode string

const (
	// ErrCodeInvalidPlan indicates a plan the driver cannot start.
	ErrCodeInvalidPlan RunErrorCode = "INVALID_PLAN"

	// ErrCodeUnknownActivity indicates a directive or spawn of an activity
	// type the registry does not know.
	ErrCodeUnknownActivity RunErrorCode = "UNKNOWN_ACTIVITY"

	// ErrCodeReplayDefect indicates a fatal replay outcome.
	ErrCodeReplayDefect RunErrorCode = "REPLAY_DEFECT"

	// ErrCodeDeadlock indicates activities waiting on each other in a cycle.
	ErrCodeDeadlock RunErrorCode = "DEADLOCK"

	// ErrCodeSpawnCollision indicates a generated child id that matches an
	// existing activity.
	ErrCodeSpawnCollision RunErrorCode = "SPAWN_COLLISION"
)

// ErrUnknownAwait fails an activity that waits for an id no directive or
// spawn created.
var ErrUnknownAwait = errors.New("awaited activity does not exist")

// RunError terminates a simulation run.
type RunError struct {
	Code       RunErrorCode
	ActivityID string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ActivityID != "" {
		msg += fmt.Sprintf(" (activity=%s)", e.ActivityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsDeadlock returns true if err is a DEADLOCK run error.
func IsDeadlock(err error) bool {
	return hasCode(err, ErrCodeDeadlock)
}

// IsSpawnCollision returns true if err is a SPAWN_COLLISION run error.
func IsSpawnCollision(err error) bool {
	return hasCode(err, ErrCodeSpawnCollision)
}

// IsReplayDefect returns true if err is a REPLAY_DEFECT run error.
func IsReplayDefect(err error) bool {
	return hasCode(err, ErrCodeReplayDefect)
}

// IsUnknownActivity returns true if err is an UNKNOWN_ACTIVITY run error.
func IsUnknownActivity(err error) bool {
	return hasCode(err, ErrCodeUnknownActivity)
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == code
}
