package engine

import (
	"errors"
	"slices"

	"github.com/roach88/merlin/internal/effect"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// Task is a deterministic activity body. It must derive every decision
// from its arguments and from values read through ctx, and must call
// primitives in the same order on every execution. A task that receives
// an error from a primitive should return it.
type Task[W any] func(ctx *Context[W]) (ir.Value, error)

// Status is the outcome of one execution attempt.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
	StatusFatal     Status = "fatal"
)

// ExecuteRequest is the input of one attempt.
type ExecuteRequest[W any] struct {
	ActivityID string
	Log        []Breadcrumb[W]
	IDGen      IDGenerator
	Args       ir.ValueMap
}

// Outcome is the result of one attempt.
//
// Log, Spawns, Children, Batch and Time are set for every status. Log is a
// fresh slice; the request's log is never modified.
type Outcome[W any] struct {
	ActivityID string
	Status     Status

	// Result is set when Completed.
	Result ir.Value

	// Suspension is set when Suspended.
	Suspension *Suspension[W]

	// Err is the task's own error when Failed, or a *ReplayError when Fatal.
	Err error

	Log      []Breadcrumb[W]
	Spawns   []SpawnRequest[W]
	Children []string

	// Batch holds the emissions made since the last consumed Advance. The
	// driver commits it exactly once.
	Batch timeline.Graph[W]

	// Time is the task's Time when the attempt returned.
	Time *timeline.Time[W]

	// Replayed counts breadcrumbs consumed from the request's log.
	Replayed int
}

// Execute runs one attempt of task against req.Log.
//
// Execute never panics for task defects: a panic inside the task becomes a
// Failed outcome carrying *PanicError.
func Execute[W any](task Task[W], req ExecuteRequest[W]) (out Outcome[W]) {
	out.ActivityID = req.ActivityID
	if err := checkSeed(req); err != nil {
		out.Status = StatusFatal
		out.Err = err
		out.Log = slices.Clone(req.Log)
		return out
	}

	idgen := req.IDGen
	if idgen == nil {
		idgen = DerivedGenerator{}
	}
	seed := req.Log[0].(Advance[W])
	ctx := &Context[W]{
		activityID: req.ActivityID,
		args:       req.Args,
		idgen:      idgen,
		current:    seed.Next,
		log:        slices.Clone(req.Log),
		next:       1,
		batch:      effect.Empty[timeline.Emission[W]](),
	}
	if ctx.args == nil {
		ctx.args = ir.ValueMap{}
	}

	defer func() {
		if r := recover(); r != nil {
			out = classify(ctx, nil, &PanicError{ActivityID: req.ActivityID, Value: r})
		}
	}()

	result, err := task(ctx)
	return classify(ctx, result, err)
}

func checkSeed[W any](req ExecuteRequest[W]) error {
	if len(req.Log) == 0 {
		return &ReplayError{
			Code:       ErrCodeMissingSeed,
			ActivityID: req.ActivityID,
			Expected:   KindAdvance,
			Message:    "log is empty",
		}
	}
	adv, ok := req.Log[0].(Advance[W])
	if !ok {
		return &ReplayError{
			Code:       ErrCodeMissingSeed,
			ActivityID: req.ActivityID,
			Expected:   KindAdvance,
			Actual:     req.Log[0].Kind(),
			Message:    "log does not start with an advance",
		}
	}
	if adv.Next == nil {
		return &ReplayError{
			Code:       ErrCodeInvalidBreadcrumb,
			ActivityID: req.ActivityID,
			Expected:   KindAdvance,
			Actual:     KindAdvance,
			Message:    "seed advance has no time",
		}
	}
	return nil
}

// classify maps the context's final state to an Outcome. A replay defect
// outranks a parked signal, which outranks whatever the task returned.
func classify[W any](ctx *Context[W], result ir.Value, err error) Outcome[W] {
	out := Outcome[W]{
		ActivityID: ctx.activityID,
		Log:        ctx.log,
		Spawns:     ctx.spawns,
		Children:   ctx.children,
		Batch:      ctx.batch,
		Time:       ctx.current,
		Replayed:   ctx.replayed,
	}

	var replayErr *ReplayError
	switch {
	case ctx.fatal != nil:
		out.Status = StatusFatal
		out.Err = ctx.fatal
	case errors.As(err, &replayErr):
		out.Status = StatusFatal
		out.Err = replayErr
	case ctx.parked != nil:
		out.Status = StatusSuspended
		out.Suspension = ctx.parked
	case err != nil:
		out.Status = StatusFailed
		out.Err = err
	default:
		out.Status = StatusCompleted
		if result == nil {
			result = ir.Null{}
		}
		out.Result = result
	}
	return out
}
