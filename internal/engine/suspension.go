package engine

import (
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// SuspensionKind says what a suspended task is waiting for.
type SuspensionKind string

const (
	// SuspendDefer waits for simulated time to pass.
	SuspendDefer SuspensionKind = "defer"

	// SuspendAwait waits for another activity to finish.
	SuspendAwait SuspensionKind = "await"

	// SuspendCondition waits for a condition over cell values to hold.
	SuspendCondition SuspensionKind = "condition"
)

// Suspension is the wake condition a parked task hands to the driver.
// Exactly one of Duration, ActivityID, Condition is meaningful, by Kind.
type Suspension[W any] struct {
	Kind       SuspensionKind
	Duration   ir.Duration
	ActivityID string
	Condition  Condition[W]
}

// Condition is a predicate over the timeline that a task can wait on.
type Condition[W any] interface {
	// NextSatisfied returns the earliest instant in [q.Instant(), atLatest]
	// at which the condition holds, judged from the values visible to q.
	// ok is false if it does not hold anywhere in that window.
	NextSatisfied(q timeline.Querier[W], atLatest ir.Duration) (at ir.Duration, ok bool)
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc[W any] func(q timeline.Querier[W], atLatest ir.Duration) (ir.Duration, bool)

// NextSatisfied calls f.
func (f ConditionFunc[W]) NextSatisfied(q timeline.Querier[W], atLatest ir.Duration) (ir.Duration, bool) {
	return f(q, atLatest)
}

// When returns a condition that holds whenever pred does. It is only
// re-evaluated when cell values change, never predicting a future instant.
func When[W any](pred func(q timeline.Querier[W]) bool) Condition[W] {
	return ConditionFunc[W](func(q timeline.Querier[W], atLatest ir.Duration) (ir.Duration, bool) {
		if q.Instant() > atLatest || !pred(q) {
			return 0, false
		}
		return q.Instant(), true
	})
}
