package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxAttempts bounds how many times one task may be executed in a
// single run.
const DefaultMaxAttempts = 10000

// QuotaEnforcer counts the executions of one task and enforces a limit.
//
// Every resumption re-runs the task from the start, so a task suspending
// in a tight loop (a zero delay, a wait on an already-complete activity)
// would otherwise spin the driver forever at one instant.
type QuotaEnforcer struct {
	maxAttempts int
	current     int
}

// NewQuotaEnforcer creates an enforcer with the given limit. A limit of 0
// or less uses DefaultMaxAttempts.
func NewQuotaEnforcer(maxAttempts int) *QuotaEnforcer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &QuotaEnforcer{maxAttempts: maxAttempts}
}

// Check counts one attempt and returns *AttemptsExceededError once the
// limit is passed.
func (q *QuotaEnforcer) Check(activityID string) error {
	q.current++
	if q.current > q.maxAttempts {
		return &AttemptsExceededError{
			ActivityID: activityID,
			Attempts:   q.current,
			Limit:      q.maxAttempts,
		}
	}
	return nil
}

// Current returns the attempt count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxAttempts returns the limit.
func (q *QuotaEnforcer) MaxAttempts() int {
	return q.maxAttempts
}

// AttemptsExceededError is returned when a task exceeds its attempt quota.
type AttemptsExceededError struct {
	ActivityID string
	Attempts   int
	Limit      int
}

// Error implements the error interface.
func (e *AttemptsExceededError) Error() string {
	return fmt.Sprintf("activity %s exceeded max attempts (%d > %d)", e.ActivityID, e.Attempts, e.Limit)
}

// IsAttemptsExceeded returns true if err is or wraps *AttemptsExceededError.
func IsAttemptsExceeded(err error) bool {
	var ae *AttemptsExceededError
	return errors.As(err, &ae)
}
