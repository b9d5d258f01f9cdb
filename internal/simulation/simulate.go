package simulation

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/merlin/internal/effect"
	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/telemetry"
	"github.com/roach88/merlin/internal/timeline"
)

// DaemonPrefix prefixes the activity id of every daemon.
const DaemonPrefix = "daemon/"

// run is the state of one Simulate call.
type run[W any] struct {
	d    *Driver[W]
	plan *ir.Plan

	now    *timeline.Time[W]
	clock  *engine.Clock
	tasks  []*task[W]
	byID   map[string]*task[W]
	agenda agenda[W]

	awaiting    map[string][]*task[W]
	conditioned []*task[W]
	waits       *CycleDetector

	samples    []ir.SampleRecord
	lastSample map[string]string
	waves      int
	attempts   int
}

// Simulate runs plan until every task has finished or the next scheduled
// instant lies beyond the plan horizon.
//
// A run-terminating error (*RunError, or the context's error) is returned
// together with the partial results gathered up to that point.
func (d *Driver[W]) Simulate(ctx context.Context, plan *ir.Plan) (*Results[W], error) {
	if plan == nil {
		return nil, &RunError{Code: ErrCodeInvalidPlan, Message: "plan is nil"}
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "Simulation.Simulate",
		trace.WithAttributes(
			attribute.String("plan", plan.Name),
			attribute.Int("activities", len(plan.Activities)),
			attribute.Int64("horizon_us", int64(plan.Horizon)),
		),
	)
	defer span.End()

	r, err := d.newRun(plan)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger := d.opts.logger
	logger.Info("simulation started",
		"plan", plan.Name,
		"activities", len(plan.Activities),
		"daemons", len(d.registry.Daemons()),
		"horizon", plan.Horizon.String(),
		"workers", d.opts.workers)

	err = r.loop(ctx)
	res := r.results()
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("simulation failed",
			"plan", plan.Name,
			"instant", res.EndInstant.String(),
			"waves", res.Waves,
			"error", err)
		return res, err
	}

	span.SetAttributes(attribute.Int("waves", res.Waves), attribute.Int("attempts", res.Attempts))
	logger.Info("simulation finished",
		"plan", plan.Name,
		"end", res.EndInstant.String(),
		"waves", res.Waves,
		"attempts", res.Attempts,
		"incomplete", res.Count(ir.SpanIncomplete))
	return res, nil
}

func (d *Driver[W]) newRun(plan *ir.Plan) (*run[W], error) {
	if plan.Horizon.Negative() {
		return nil, &RunError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("negative horizon %s", plan.Horizon)}
	}
	r := &run[W]{
		d:          d,
		plan:       plan,
		now:        d.schema.Origin(),
		clock:      engine.NewClock(),
		byID:       make(map[string]*task[W]),
		awaiting:   make(map[string][]*task[W]),
		waits:      NewCycleDetector(),
		lastSample: make(map[string]string),
	}

	for _, name := range d.registry.Daemons() {
		if _, err := r.addTask(DaemonPrefix+name, name, "", nil, 0); err != nil {
			return nil, err
		}
	}
	for _, dir := range plan.Activities {
		if dir.ID == "" {
			return nil, &RunError{Code: ErrCodeInvalidPlan, Message: fmt.Sprintf("directive of type %q has no id", dir.Type)}
		}
		if dir.StartOffset.Negative() {
			return nil, &RunError{Code: ErrCodeInvalidPlan, ActivityID: dir.ID, Message: fmt.Sprintf("negative start offset %s", dir.StartOffset)}
		}
		if _, err := r.addTask(dir.ID, dir.Type, "", dir.Args, dir.StartOffset); err != nil {
			return nil, err
		}
	}
	for _, t := range r.tasks {
		r.agenda.schedule(t.start, t)
	}
	return r, nil
}

func (r *run[W]) addTask(id, typ, parentID string, args ir.ValueMap, start ir.Duration) (*task[W], error) {
	if _, dup := r.byID[id]; dup {
		return nil, &RunError{Code: ErrCodeInvalidPlan, ActivityID: id, Message: "duplicate activity id"}
	}
	if args == nil {
		args = ir.ValueMap{}
	}
	fn, err := r.d.registry.NewTask(typ, args)
	if err != nil {
		return nil, &RunError{Code: ErrCodeUnknownActivity, ActivityID: id, Message: fmt.Sprintf("cannot instantiate %q", typ), Err: err}
	}
	t := &task[W]{
		id:       id,
		typ:      typ,
		parentID: parentID,
		order:    r.clock.Next(),
		args:     args,
		fn:       fn,
		quota:    engine.NewQuotaEnforcer(r.d.opts.maxAttempts),
		start:    start,
	}
	r.tasks = append(r.tasks, t)
	r.byID[id] = t
	return t, nil
}

func (r *run[W]) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		instant, ok := r.agenda.peek()
		if !ok || instant > r.plan.Horizon {
			return nil
		}
		if instant > r.now.Instant() {
			next, err := r.now.At(instant)
			if err != nil {
				return err
			}
			r.now = next
		}
		if err := r.runInstant(ctx, instant, r.agenda.popAt(instant)); err != nil {
			return err
		}
	}
}

// runInstant runs waves at instant until no task is ready.
func (r *run[W]) runInstant(ctx context.Context, instant ir.Duration, ready []*task[W]) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "Simulation.instant",
		trace.WithAttributes(attribute.Int64("instant_us", int64(instant))))
	defer span.End()

	for len(ready) > 0 {
		for _, t := range ready {
			r.wake(t)
		}
		outcomes, err := r.execute(ctx, ready)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		ready, err = r.apply(instant, ready, outcomes)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	r.sample(instant)
	return nil
}

// wake records where a task resumes: a seed on its first execution, an
// Advance to the committed timeline after that.
func (r *run[W]) wake(t *task[W]) {
	t.state = statePending
	t.wait = nil
	r.waits.Clear(t.id)
	if !t.started {
		t.started = true
		if len(t.log) == 0 {
			t.log = engine.Seed(r.now)
		}
		return
	}
	t.log = append(t.log, engine.Advance[W]{Next: r.now})
}

// execute runs one attempt of every ready task. Outcomes are indexed like
// ready, whatever order the workers finish in.
func (r *run[W]) execute(ctx context.Context, ready []*task[W]) ([]engine.Outcome[W], error) {
	outcomes := make([]engine.Outcome[W], len(ready))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.d.opts.workers)
	for i, t := range ready {
		if err := t.quota.Check(t.id); err != nil {
			outcomes[i] = engine.Outcome[W]{ActivityID: t.id, Status: engine.StatusFailed, Err: err, Log: t.log}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = engine.Execute(t.fn, engine.ExecuteRequest[W]{
				ActivityID: t.id,
				Log:        t.log,
				IDGen:      r.d.opts.idgen,
				Args:       t.args,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// apply commits a wave and returns the tasks ready for the next wave.
func (r *run[W]) apply(instant ir.Duration, ready []*task[W], outcomes []engine.Outcome[W]) ([]*task[W], error) {
	logger := r.d.opts.logger
	metrics := r.d.opts.metrics

	var batches []timeline.Graph[W]
	var next, finished, suspended []*task[W]
	for i, out := range outcomes {
		t := ready[i]
		r.attempts++
		metrics.ObserveAttempt(string(out.Status))
		metrics.AddReplayed(out.Replayed)
		logger.Debug("task attempt",
			"activity", t.id,
			"type", t.typ,
			"instant", instant.String(),
			"attempt", t.quota.Current(),
			"limit", t.quota.MaxAttempts(),
			"replayed", out.Replayed,
			"status", out.Status)

		switch out.Status {
		case engine.StatusFatal:
			r.finish(t, instant, ir.SpanFailed, nil, out.Err)
			return nil, &RunError{Code: ErrCodeReplayDefect, ActivityID: t.id, Message: "task replay diverged", Err: out.Err}

		case engine.StatusFailed:
			logger.Warn("activity failed", "activity", t.id, "type", t.typ, "instant", instant.String(), "error", out.Err)
			r.finish(t, instant, ir.SpanFailed, nil, out.Err)
			finished = append(finished, t)
			continue
		}

		t.log = out.Log
		batches = append(batches, out.Batch)
		children, err := r.spawn(t, instant, out.Spawns)
		if err != nil {
			return nil, err
		}
		next = append(next, children...)

		if out.Status == engine.StatusCompleted {
			r.finish(t, instant, ir.SpanCompleted, out.Result, nil)
			finished = append(finished, t)
			continue
		}
		t.wait = out.Suspension
		suspended = append(suspended, t)
	}

	commit := effect.Parallel(batches...)
	if !commit.IsEmpty() {
		r.now = r.now.Step(commit)
	}
	r.waves++
	metrics.ObserveCommit(commit.Size())

	for _, t := range suspended {
		if t.wait.Kind == engine.SuspendAwait && r.byID[t.wait.ActivityID] == nil {
			err := fmt.Errorf("%w: %s", ErrUnknownAwait, t.wait.ActivityID)
			logger.Warn("activity failed", "activity", t.id, "type", t.typ, "instant", instant.String(), "error", err)
			r.finish(t, instant, ir.SpanFailed, nil, err)
			finished = append(finished, t)
			continue
		}
		wakeNow, err := r.suspend(t, instant)
		if err != nil {
			return nil, err
		}
		if wakeNow {
			next = append(next, t)
		}
	}
	for _, t := range finished {
		next = append(next, r.awaiting[t.id]...)
		delete(r.awaiting, t.id)
	}
	next = append(next, r.checkConditions(instant)...)

	slices.SortFunc(next, func(a, b *task[W]) int {
		switch {
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		default:
			return 0
		}
	})
	return slices.Compact(next), nil
}

func (r *run[W]) spawn(parent *task[W], instant ir.Duration, reqs []engine.SpawnRequest[W]) ([]*task[W], error) {
	var out []*task[W]
	for _, req := range reqs {
		if _, taken := r.byID[req.ChildID]; taken {
			return nil, &RunError{
				Code:       ErrCodeSpawnCollision,
				ActivityID: parent.id,
				Message:    fmt.Sprintf("spawned child id %q is already in use", req.ChildID),
			}
		}
		child, err := r.addTask(req.ChildID, req.Activity, parent.id, req.Args, instant)
		if err != nil {
			return nil, err
		}
		child.log = req.Seed
		out = append(out, child)
	}
	return out, nil
}

func (r *run[W]) finish(t *task[W], instant ir.Duration, status ir.SpanStatus, result ir.Value, err error) {
	t.state = stateDone
	t.wait = nil
	t.end = instant
	t.status = status
	t.result = result
	t.err = err
}

// suspend files a parked task under its wake condition. It reports true if
// the task can run again in the next wave.
func (r *run[W]) suspend(t *task[W], instant ir.Duration) (bool, error) {
	s := t.wait
	r.d.opts.metrics.ObserveSuspension(string(s.Kind))

	switch s.Kind {
	case engine.SuspendDefer:
		if s.Duration == 0 {
			return true, nil
		}
		t.state = stateDeferred
		if s.Duration <= ir.Max-instant {
			r.agenda.schedule(instant+s.Duration, t)
		}
		return false, nil

	case engine.SuspendAwait:
		if target, ok := r.byID[s.ActivityID]; ok && target.state == stateDone {
			return true, nil
		}
		if cycle := r.waits.Record(t.id, s.ActivityID); cycle != nil {
			return false, &RunError{
				Code:       ErrCodeDeadlock,
				ActivityID: t.id,
				Message:    fmt.Sprintf("activities wait on each other: %v", cycle),
			}
		}
		t.state = stateAwaiting
		r.awaiting[s.ActivityID] = append(r.awaiting[s.ActivityID], t)
		r.d.opts.logger.Debug("activity awaiting",
			"activity", t.id,
			"target", s.ActivityID,
			"waiting", r.waits.Waiting())
		return false, nil

	default:
		t.state = stateConditioned
		r.conditioned = append(r.conditioned, t)
		return false, nil
	}
}

// checkConditions evaluates every condition wait against the committed
// timeline. Conditions satisfied now are returned; conditions that predict
// a later instant are moved to the agenda.
func (r *run[W]) checkConditions(instant ir.Duration) []*task[W] {
	var ready []*task[W]
	keep := r.conditioned[:0]
	q := r.now.Querier()
	for _, t := range r.conditioned {
		at, ok := t.wait.Condition.NextSatisfied(q, r.plan.Horizon)
		switch {
		case ok && at <= instant:
			ready = append(ready, t)
		case ok:
			t.state = stateDeferred
			r.agenda.schedule(at, t)
		default:
			keep = append(keep, t)
		}
	}
	r.conditioned = keep
	return ready
}

// sample records every cell whose sampled value changed during instant.
func (r *run[W]) sample(instant ir.Duration) {
	for _, cell := range r.d.schema.Cells() {
		state, _ := r.now.Value(cell.Index)
		v, ok := r.d.opts.sampler(cell.Name, state)
		if !ok {
			continue
		}
		key := sampleKey(v)
		if prev, seen := r.lastSample[cell.Name]; seen && prev == key {
			continue
		}
		r.lastSample[cell.Name] = key
		r.samples = append(r.samples, ir.SampleRecord{Cell: cell.Name, Instant: instant, Value: v})
	}
}

func sampleKey(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
