package timeline

import (
	"sync"

	"github.com/roach88/merlin/internal/effect"
	"github.com/roach88/merlin/internal/ir"
)

// Time is a persistent node in a timeline: its parent, the graph of
// emissions that leads from the parent to it, and the simulated instant.
// Nodes are never mutated after creation; Step, Fork and Elapse return new
// nodes. Reads are memoised per node and safe for concurrent use.
type Time[W any] struct {
	parent  *Time[W]
	graph   Graph[W]
	touched map[int]struct{}
	instant ir.Duration
	depth   int
	schema  *Schema[W]

	mu    sync.Mutex
	cache map[int]any
}

// Step returns the Time reached by applying g after t. Emissions addressed
// to cells outside t's schema are never observed by any read.
func (t *Time[W]) Step(g Graph[W]) *Time[W] {
	next := t.child(t.instant)
	next.graph = g
	if !g.IsEmpty() {
		next.touched = make(map[int]struct{})
		for _, e := range g.Atoms() {
			next.touched[e.index] = struct{}{}
		}
	}
	return next
}

// Emit is Step over a single emission.
func (t *Time[W]) Emit(e Emission[W]) *Time[W] {
	return t.Step(effect.Atom(e))
}

// Fork returns an independent node at the same instant that shares t's
// history. Steps from the fork are not visible from t and vice versa.
func (t *Time[W]) Fork() *Time[W] {
	return t.child(t.instant)
}

// Elapse returns a node d later than t with no new effects.
func (t *Time[W]) Elapse(d ir.Duration) (*Time[W], error) {
	if d.Negative() {
		return nil, ErrNegativeDuration
	}
	return t.child(t.instant + d), nil
}

// At returns a node at instant with no new effects. An instant before t's
// is rejected.
func (t *Time[W]) At(instant ir.Duration) (*Time[W], error) {
	return t.Elapse(instant - t.instant)
}

func (t *Time[W]) child(instant ir.Duration) *Time[W] {
	return &Time[W]{
		parent:  t,
		instant: instant,
		depth:   t.depth + 1,
		schema:  t.schema,
	}
}

// Instant returns the simulated instant of t.
func (t *Time[W]) Instant() ir.Duration { return t.instant }

// Depth returns the number of nodes between t and the schema origin.
func (t *Time[W]) Depth() int { return t.depth }

// Schema returns the schema t belongs to.
func (t *Time[W]) Schema() *Schema[W] { return t.schema }

// Graph returns the emissions that lead from t's parent to t.
func (t *Time[W]) Graph() Graph[W] { return t.graph }

// Querier returns a read capability bound to t.
func (t *Time[W]) Querier() Querier[W] { return Querier[W]{time: t} }

// Value reads the cell at index as an untyped value, for samplers and
// diagnostics that iterate a schema's cells.
func (t *Time[W]) Value(index int) (any, bool) {
	if index < 0 || index >= len(t.schema.slots) {
		return nil, false
	}
	return t.valueAt(index), true
}

func (t *Time[W]) cached(index int) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache[index]
	return v, ok
}

func (t *Time[W]) store(index int, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache == nil {
		t.cache = make(map[int]any)
	}
	t.cache[index] = v
}

// valueAt folds every graph from the nearest memoised ancestor (or the
// origin) down to t.
func (t *Time[W]) valueAt(index int) any {
	sl := t.schema.slots[index]

	var path []*Time[W]
	var state any
	for n := t; ; n = n.parent {
		if v, ok := n.cached(index); ok {
			state = v
			break
		}
		path = append(path, n)
		if n.parent == nil {
			state = sl.initialState()
			break
		}
	}

	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if _, ok := n.touched[index]; ok {
			state = sl.evolve(state, n.graph)
		}
		n.store(index, state)
	}
	return state
}

// Querier is a read capability bound to one Time.
type Querier[W any] struct {
	time *Time[W]
}

// NewQuerier returns a querier reading at t.
func NewQuerier[W any](t *Time[W]) Querier[W] {
	return Querier[W]{time: t}
}

// Time returns the Time the querier reads at.
func (q Querier[W]) Time() *Time[W] { return q.time }

// Instant returns the simulated instant the querier reads at.
func (q Querier[W]) Instant() ir.Duration { return q.time.instant }
