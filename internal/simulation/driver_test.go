package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

type world struct{}

type sum struct{}

func (sum) Empty() int64                     { return 0 }
func (sum) Sequentially(a, b int64) int64    { return a + b }
func (sum) Concurrently(a, b int64) int64    { return a + b }
func (sum) Apply(state int64, d int64) int64 { return state + d }

type counter = timeline.Query[world, int64, int64]

func setupSchema(t *testing.T) (*timeline.Schema[world], counter) {
	t.Helper()
	b := timeline.NewBuilder[world]()
	q, err := timeline.Register[world](b, int64(0),
		timeline.Applicator[int64, int64](sum{}),
		timeline.Projection[int64, int64](func(n int64) int64 { return n }),
		timeline.WithName("counter"))
	require.NoError(t, err)
	return b.Build(), q
}

// testRegistry maps activity types to task factories.
type testRegistry struct {
	types   map[string]func(args ir.ValueMap) engine.Task[world]
	daemons []string
}

func (r *testRegistry) NewTask(typ string, args ir.ValueMap) (engine.Task[world], error) {
	f, ok := r.types[typ]
	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", typ)
	}
	return f(args), nil
}

func (r *testRegistry) Daemons() []string { return r.daemons }

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// incrementer adds args.amount (default 1) to the counter, args.times
// (default 1) times, args.every apart.
func incrementer(c counter) func(ir.ValueMap) engine.Task[world] {
	return func(args ir.ValueMap) engine.Task[world] {
		return func(ctx *engine.Context[world]) (ir.Value, error) {
			amount, err := args.Int("amount", 1)
			if err != nil {
				return nil, err
			}
			times, err := args.Int("times", 1)
			if err != nil {
				return nil, err
			}
			every, err := args.Int("every", 0)
			if err != nil {
				return nil, err
			}
			for i := int64(0); i < times; i++ {
				if err := ctx.React(c.Emit(amount)); err != nil {
					return nil, err
				}
				if every > 0 {
					if err := ctx.Delay(ir.Duration(every)); err != nil {
						return nil, err
					}
				}
			}
			return ir.Int(c.MustGet(ctx.Querier())), nil
		}
	}
}

func directive(id, typ string, start ir.Duration, args ir.ValueMap) ir.ActivityDirective {
	return ir.ActivityDirective{ID: id, Type: typ, StartOffset: start, Args: args}
}

func TestSimulate_DirectivesAtOffsets(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}
	d := New(s, reg, quiet())

	res, err := d.Simulate(context.Background(), &ir.Plan{
		Name:    "offsets",
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("a", "inc", 0, ir.ValueMap{"amount": ir.Int(2)}),
			directive("b", "inc", 10*ir.Second, ir.ValueMap{"amount": ir.Int(3)}),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ir.ValueMap{"counter": ir.Int(5)}, res.Final)
	assert.Equal(t, 10*ir.Second, res.EndInstant)

	a, ok := res.Span("a")
	require.True(t, ok)
	assert.Equal(t, ir.SpanCompleted, a.Status)
	assert.Equal(t, ir.Zero, a.Start)
	assert.Equal(t, ir.Zero, a.End)
	assert.Equal(t, ir.Int(2), a.Result, "a task sees its own emissions")

	b, ok := res.Span("b")
	require.True(t, ok)
	assert.Equal(t, 10*ir.Second, b.Start)
	assert.Equal(t, ir.Int(5), b.Result)

	samples := res.SamplesOf("counter")
	require.Len(t, samples, 2)
	assert.Equal(t, ir.SampleRecord{Cell: "counter", Instant: 0, Value: ir.Int(2)}, samples[0])
	assert.Equal(t, ir.SampleRecord{Cell: "counter", Instant: 10 * ir.Second, Value: ir.Int(5)}, samples[1])
}

func TestSimulate_SameWaveEmissionsCommitConcurrently(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}
	d := New(s, reg, quiet())

	res, err := d.Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Minute,
		Activities: []ir.ActivityDirective{
			directive("a", "inc", 0, nil),
			directive("b", "inc", 0, nil),
			directive("c", "inc", 0, nil),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ir.Int(3), res.Final["counter"])
	assert.Equal(t, 1, res.Waves)
	for _, id := range []string{"a", "b", "c"} {
		span, _ := res.Span(id)
		assert.Equal(t, ir.Int(1), span.Result, "%s does not see its siblings' uncommitted emissions", id)
	}
}

func TestSimulate_DelayResumesLater(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}
	d := New(s, reg, quiet())

	res, err := d.Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("a", "inc", 0, ir.ValueMap{"times": ir.Int(3), "every": ir.Int(int64(ir.Second))}),
		},
	})
	require.NoError(t, err)

	span, _ := res.Span("a")
	assert.Equal(t, ir.SpanCompleted, span.Status)
	assert.Equal(t, 3*ir.Second, span.End)
	assert.Equal(t, 4, span.Attempts)

	tr, ok := res.Transcript("a")
	require.True(t, ok)
	require.Len(t, tr.Entries, 4)
	for i, e := range tr.Entries {
		assert.Equal(t, ir.EntryAdvance, e.Kind)
		assert.Equal(t, ir.Duration(i)*ir.Second, e.Instant)
	}
	assert.Equal(t, ir.MustTranscriptDigest(tr.Entries), tr.Digest)
}

func TestSimulate_DeterministicAcrossWorkerCounts(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"fanout": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				for i := 0; i < 4; i++ {
					if _, err := ctx.SpawnWith("inc", ir.ValueMap{"amount": ir.Int(int64(i + 1))}); err != nil {
						return nil, err
					}
				}
				if err := ctx.WaitForChildren(); err != nil {
					return nil, err
				}
				return ir.Int(c.MustGet(ctx.Querier())), nil
			}
		},
	}}

	plan := &ir.Plan{Horizon: ir.Hour}
	for i := 0; i < 6; i++ {
		plan.Activities = append(plan.Activities,
			directive(fmt.Sprintf("f%d", i), "fanout", ir.Duration(i%3)*ir.Second, nil))
	}

	var baseline *Results[world]
	for _, workers := range []int{1, 2, 8} {
		res, err := New(s, reg, quiet(), WithWorkers(workers)).Simulate(context.Background(), plan)
		require.NoError(t, err)
		if baseline == nil {
			baseline = res
			continue
		}
		assert.Equal(t, baseline.Final, res.Final, "workers=%d", workers)
		assert.Equal(t, baseline.Spans, res.Spans, "workers=%d", workers)
		assert.Equal(t, baseline.Transcripts, res.Transcripts, "workers=%d", workers)
		assert.Equal(t, baseline.Samples, res.Samples, "workers=%d", workers)
	}
	assert.Equal(t, ir.Int(60), baseline.Final["counter"])
}

func TestSimulate_SpawnedChildren(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"parent": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				if _, err := ctx.SpawnWith("inc", ir.ValueMap{"every": ir.Int(int64(ir.Minute))}); err != nil {
					return nil, err
				}
				if err := ctx.WaitForChildren(); err != nil {
					return nil, err
				}
				return ir.Int(int64(ctx.Now())), nil
			}
		},
	}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon:    ir.Hour,
		Activities: []ir.ActivityDirective{directive("p", "parent", ir.Second, nil)},
	})
	require.NoError(t, err)
	require.Len(t, res.Spans, 2)

	childID := ir.DerivedActivityID("p", 0)
	child, ok := res.Span(childID)
	require.True(t, ok)
	assert.Equal(t, "p", child.ParentID)
	assert.Equal(t, "inc", child.Type)
	assert.Equal(t, ir.Second, child.Start)
	assert.Equal(t, ir.Second+ir.Minute, child.End)

	parent, _ := res.Span("p")
	assert.Equal(t, ir.Int(int64(ir.Second+ir.Minute)), parent.Result)

	tr, _ := res.Transcript("p")
	kinds := make([]string, len(tr.Entries))
	for i, e := range tr.Entries {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{ir.EntryAdvance, ir.EntrySpawn, ir.EntryAdvance}, kinds)
	assert.Equal(t, childID, tr.Entries[1].ChildID)
}

func TestSimulate_AwaitOtherActivity(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"await": func(args ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				target, err := args.String("target", "")
				if err != nil {
					return nil, err
				}
				if err := ctx.WaitForActivity(target); err != nil {
					return nil, err
				}
				return ir.Int(c.MustGet(ctx.Querier())), nil
			}
		},
	}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("waiter", "await", 0, ir.ValueMap{"target": ir.String("slow")}),
			directive("slow", "inc", 0, ir.ValueMap{"times": ir.Int(2), "every": ir.Int(int64(5 * ir.Second))}),
			directive("late", "await", 20*ir.Second, ir.ValueMap{"target": ir.String("slow")}),
		},
	})
	require.NoError(t, err)

	waiter, _ := res.Span("waiter")
	assert.Equal(t, ir.SpanCompleted, waiter.Status)
	assert.Equal(t, 10*ir.Second, waiter.End)
	assert.Equal(t, ir.Int(2), waiter.Result)

	late, _ := res.Span("late")
	assert.Equal(t, 20*ir.Second, late.End, "awaiting a finished activity resumes at once")
}

func TestSimulate_DeadlockDetected(t *testing.T) {
	s, _ := setupSchema(t)
	await := func(args ir.ValueMap) engine.Task[world] {
		return func(ctx *engine.Context[world]) (ir.Value, error) {
			target, _ := args.String("target", "")
			return nil, ctx.WaitForActivity(target)
		}
	}
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"await": await}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("a", "await", 0, ir.ValueMap{"target": ir.String("b")}),
			directive("b", "await", 0, ir.ValueMap{"target": ir.String("a")}),
		},
	})
	require.Error(t, err)
	assert.True(t, IsDeadlock(err))
	require.NotNil(t, res, "partial results accompany the error")
	assert.Equal(t, 2, res.Count(ir.SpanIncomplete))
}

func TestSimulate_ConditionWakesWhenSatisfied(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"watch": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				cond := engine.When(func(q timeline.Querier[world]) bool { return c.MustGet(q) >= 3 })
				if err := ctx.WaitUntil(cond); err != nil {
					return nil, err
				}
				return ir.Int(int64(ctx.Now())), nil
			}
		},
	}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("watch", "watch", 0, nil),
			directive("inc", "inc", 0, ir.ValueMap{"times": ir.Int(3), "every": ir.Int(int64(ir.Second))}),
		},
	})
	require.NoError(t, err)

	watch, _ := res.Span("watch")
	assert.Equal(t, ir.SpanCompleted, watch.Status)
	assert.Equal(t, ir.Int(int64(2*ir.Second)), watch.Result)
}

func TestSimulate_HorizonLeavesTasksIncomplete(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("long", "inc", 0, ir.ValueMap{"every": ir.Int(int64(2 * ir.Hour))}),
			directive("never", "inc", 3*ir.Hour, nil),
		},
	})
	require.NoError(t, err)

	long, _ := res.Span("long")
	assert.Equal(t, ir.SpanIncomplete, long.Status)
	assert.Equal(t, res.EndInstant, long.End)

	never, _ := res.Span("never")
	assert.Equal(t, ir.SpanIncomplete, never.Status)
	assert.Equal(t, 0, never.Attempts)
	assert.Equal(t, ir.Int(1), res.Final["counter"])
}

func TestSimulate_FailedTaskDiscardsBatch(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"broken": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				if err := ctx.React(c.Emit(100)); err != nil {
					return nil, err
				}
				return nil, errors.New("instrument fault")
			}
		},
	}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("bad", "broken", 0, nil),
			directive("good", "inc", 0, nil),
		},
	})
	require.NoError(t, err, "a failed activity does not end the run")

	bad, _ := res.Span("bad")
	assert.Equal(t, ir.SpanFailed, bad.Status)
	assert.Equal(t, "instrument fault", bad.Error)
	assert.Equal(t, ir.Int(1), res.Final["counter"])
}

func TestSimulate_AttemptQuota(t *testing.T) {
	s, _ := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"spin": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				for {
					if err := ctx.Delay(0); err != nil {
						return nil, err
					}
				}
			}
		},
	}}

	res, err := New(s, reg, quiet(), WithMaxAttempts(5)).Simulate(context.Background(), &ir.Plan{
		Horizon:    ir.Hour,
		Activities: []ir.ActivityDirective{directive("spin", "spin", 0, nil)},
	})
	require.NoError(t, err)

	span, _ := res.Span("spin")
	assert.Equal(t, ir.SpanFailed, span.Status)
	assert.Contains(t, span.Error, "exceeded max attempts")
}

func TestSimulate_ReplayDefectIsFatal(t *testing.T) {
	s, _ := setupSchema(t)
	calls := 0
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"child": func(ir.ValueMap) engine.Task[world] {
			return func(*engine.Context[world]) (ir.Value, error) { return nil, nil }
		},
		"flaky": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				calls++
				if calls == 1 {
					if _, err := ctx.Spawn("child"); err != nil {
						return nil, err
					}
				}
				return nil, ctx.Delay(ir.Second)
			}
		},
	}}

	res, err := New(s, reg, quiet(), WithWorkers(1)).Simulate(context.Background(), &ir.Plan{
		Horizon:    ir.Hour,
		Activities: []ir.ActivityDirective{directive("flaky", "flaky", 0, nil)},
	})
	require.Error(t, err)
	assert.True(t, IsReplayDefect(err))
	assert.True(t, engine.IsDivergence(err))

	span, _ := res.Span("flaky")
	assert.Equal(t, ir.SpanFailed, span.Status)
}

func TestSimulate_Daemons(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{
		types: map[string]func(ir.ValueMap) engine.Task[world]{
			"ticker": func(ir.ValueMap) engine.Task[world] {
				return incrementer(c)(ir.ValueMap{"times": ir.Int(100), "every": ir.Int(int64(ir.Minute))})
			},
		},
		daemons: []string{"ticker"},
	}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{Horizon: 10 * ir.Minute})
	require.NoError(t, err)

	span, ok := res.Span(DaemonPrefix + "ticker")
	require.True(t, ok)
	assert.Equal(t, ir.SpanIncomplete, span.Status)
	assert.Equal(t, ir.Int(11), res.Final["counter"])
	assert.Equal(t, 10*ir.Minute, res.EndInstant)
}

func TestSimulate_InvalidPlans(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}
	d := New(s, reg, quiet())

	tests := []struct {
		name  string
		plan  *ir.Plan
		check func(error) bool
	}{
		{
			name:  "unknown type",
			plan:  &ir.Plan{Horizon: ir.Hour, Activities: []ir.ActivityDirective{directive("a", "nope", 0, nil)}},
			check: IsUnknownActivity,
		},
		{
			name: "duplicate id",
			plan: &ir.Plan{Horizon: ir.Hour, Activities: []ir.ActivityDirective{
				directive("a", "inc", 0, nil),
				directive("a", "inc", 0, nil),
			}},
			check: func(err error) bool { return hasCode(err, ErrCodeInvalidPlan) },
		},
		{
			name:  "negative offset",
			plan:  &ir.Plan{Horizon: ir.Hour, Activities: []ir.ActivityDirective{directive("a", "inc", -ir.Second, nil)}},
			check: func(err error) bool { return hasCode(err, ErrCodeInvalidPlan) },
		},
		{
			name:  "negative horizon",
			plan:  &ir.Plan{Horizon: -ir.Hour},
			check: func(err error) bool { return hasCode(err, ErrCodeInvalidPlan) },
		},
		{
			name:  "nil plan",
			check: func(err error) bool { return hasCode(err, ErrCodeInvalidPlan) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Simulate(context.Background(), tt.plan)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
			assert.Nil(t, res)
		})
	}
}

func TestSimulate_CanceledContext(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{"inc": incrementer(c)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(s, reg, quiet()).Simulate(ctx, &ir.Plan{
		Horizon:    ir.Hour,
		Activities: []ir.ActivityDirective{directive("a", "inc", 0, nil)},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, ir.Int(0), res.Final["counter"])
}

func TestDriver_Options(t *testing.T) {
	s, _ := setupSchema(t)
	d := New(s, &testRegistry{}, WithWorkers(3), WithMaxAttempts(7), WithWorkers(0))
	assert.Equal(t, 3, d.Workers(), "non-positive values keep the previous setting")
	assert.Equal(t, 7, d.MaxAttempts())
}

func TestSimulate_AwaitUnknownActivityFails(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"await": func(args ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				target, _ := args.String("target", "")
				return nil, ctx.WaitForActivity(target)
			}
		},
		"inc": incrementer(c),
	}}

	res, err := New(s, reg, quiet()).Simulate(context.Background(), &ir.Plan{
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			directive("lost", "await", ir.Second, ir.ValueMap{"target": ir.String("nobody")}),
			directive("chain", "await", 0, ir.ValueMap{"target": ir.String("lost")}),
			directive("other", "inc", 0, nil),
		},
	})
	require.NoError(t, err)

	lost, ok := res.Span("lost")
	require.True(t, ok)
	assert.Equal(t, ir.SpanFailed, lost.Status)
	assert.Equal(t, ir.Second, lost.End)
	assert.Contains(t, lost.Error, "nobody")

	chain, _ := res.Span("chain")
	assert.Equal(t, ir.SpanCompleted, chain.Status, "waiters on a failed activity are woken")
	assert.Equal(t, ir.Second, chain.End)

	assert.Equal(t, 0, res.Count(ir.SpanIncomplete))
}

func TestSimulate_SpawnCollisionReported(t *testing.T) {
	s, c := setupSchema(t)
	reg := &testRegistry{types: map[string]func(ir.ValueMap) engine.Task[world]{
		"inc": incrementer(c),
		"parent": func(ir.ValueMap) engine.Task[world] {
			return func(ctx *engine.Context[world]) (ir.Value, error) {
				_, err := ctx.Spawn("inc")
				return nil, err
			}
		},
	}}

	_, err := New(s, reg, quiet(), WithIDGenerator(engine.NewFixedGenerator("taken"))).
		Simulate(context.Background(), &ir.Plan{
			Horizon: ir.Hour,
			Activities: []ir.ActivityDirective{
				directive("p", "parent", 0, nil),
				directive("taken", "inc", 0, nil),
			},
		})
	require.Error(t, err)
	assert.True(t, IsSpawnCollision(err))
	assert.False(t, errors.Is(err, ErrUnknownAwait))

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "p", re.ActivityID)
	assert.Contains(t, re.Message, `"taken"`)
}
