package simulation

import (
	"container/heap"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
)

type taskState int

const (
	statePending taskState = iota
	stateDeferred
	stateAwaiting
	stateConditioned
	stateDone
)

// task is the driver's record of one activity instance.
type task[W any] struct {
	id       string
	typ      string
	parentID string
	order    int64
	args     ir.ValueMap
	fn       engine.Task[W]

	log   []engine.Breadcrumb[W]
	state taskState
	wait  *engine.Suspension[W]
	quota *engine.QuotaEnforcer

	started bool
	start   ir.Duration
	end     ir.Duration
	status  ir.SpanStatus
	result  ir.Value
	err     error
}

func (t *task[W]) span() ir.SpanRecord {
	rec := ir.SpanRecord{
		ActivityID: t.id,
		Type:       t.typ,
		ParentID:   t.parentID,
		Start:      t.start,
		End:        t.end,
		Status:     t.status,
		Attempts:   t.quota.Current(),
		Result:     t.result,
	}
	if rec.Status == "" {
		rec.Status = ir.SpanIncomplete
	}
	if t.err != nil {
		rec.Error = t.err.Error()
	}
	return rec
}

// agendaItem schedules a task to wake at an instant.
type agendaItem[W any] struct {
	at   ir.Duration
	task *task[W]
}

// agenda is a min-heap of wake-ups ordered by instant, then task order.
type agenda[W any] []agendaItem[W]

func (a agenda[W]) Len() int { return len(a) }

func (a agenda[W]) Less(i, j int) bool {
	if a[i].at != a[j].at {
		return a[i].at < a[j].at
	}
	return a[i].task.order < a[j].task.order
}

func (a agenda[W]) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

func (a *agenda[W]) Push(x any) { *a = append(*a, x.(agendaItem[W])) }

func (a *agenda[W]) Pop() any {
	old := *a
	n := len(old)
	item := old[n-1]
	*a = old[:n-1]
	return item
}

func (a *agenda[W]) schedule(at ir.Duration, t *task[W]) {
	heap.Push(a, agendaItem[W]{at: at, task: t})
}

// peek returns the earliest scheduled instant.
func (a *agenda[W]) peek() (ir.Duration, bool) {
	if len(*a) == 0 {
		return 0, false
	}
	return (*a)[0].at, true
}

// popAt removes and returns every task scheduled at instant, in task order.
func (a *agenda[W]) popAt(instant ir.Duration) []*task[W] {
	var out []*task[W]
	for len(*a) > 0 && (*a)[0].at == instant {
		out = append(out, heap.Pop(a).(agendaItem[W]).task)
	}
	return out
}
