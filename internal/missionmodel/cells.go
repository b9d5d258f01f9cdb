package missionmodel

import (
	"fmt"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// Sampled is implemented by cell states that know their sample form.
type Sampled interface {
	Sample() ir.Value
}

// counterTrait sums int64 deltas in either composition order.
type counterTrait struct{}

func (counterTrait) Empty() int64                         { return 0 }
func (counterTrait) Sequentially(a, b int64) int64        { return a + b }
func (counterTrait) Concurrently(a, b int64) int64        { return a + b }
func (counterTrait) Apply(state int64, delta int64) int64 { return state + delta }

// Counter is an int64 cell changed by adding deltas.
type Counter[W any] struct {
	q timeline.Query[W, int64, int64]
}

// NewCounter registers a counter cell named name.
func NewCounter[W any](b *timeline.Builder[W], name string, initial int64) (Counter[W], error) {
	q, err := timeline.Register[W](b, initial,
		timeline.Applicator[int64, int64](counterTrait{}),
		timeline.Projection[int64, int64](func(d int64) int64 { return d }),
		timeline.WithName(name))
	if err != nil {
		return Counter[W]{}, fmt.Errorf("register counter %q: %w", name, err)
	}
	return Counter[W]{q: q}, nil
}

// Add returns the emission that adds delta.
func (c Counter[W]) Add(delta int64) timeline.Emission[W] { return c.q.Emit(delta) }

// Get reads the counter.
func (c Counter[W]) Get(q timeline.Querier[W]) (int64, error) { return c.q.Get(q) }

// Name returns the cell name.
func (c Counter[W]) Name() string { return c.q.Name() }

// RegisterState is the state of a Register cell. Conflicted is set when
// concurrent writes disagreed; the next sequential write clears it.
type RegisterState[T comparable] struct {
	Value      T
	Conflicted bool
}

// Sample implements Sampled.
func (s RegisterState[T]) Sample() ir.Value {
	if s.Conflicted {
		return ir.ValueMap{"conflict": ir.Bool(true)}
	}
	if v, err := ir.FromAny(s.Value); err == nil {
		return v
	}
	return ir.String(fmt.Sprint(s.Value))
}

// registerEffect is the net effect of zero or more writes.
type registerEffect[T comparable] struct {
	set      bool
	conflict bool
	value    T
}

type registerTrait[T comparable] struct{}

func (registerTrait[T]) Empty() registerEffect[T] { return registerEffect[T]{} }

// Sequentially keeps the last write.
func (registerTrait[T]) Sequentially(a, b registerEffect[T]) registerEffect[T] {
	if b.set {
		return b
	}
	return a
}

// Concurrently keeps a write that both sides agree on and marks a conflict
// otherwise.
func (registerTrait[T]) Concurrently(a, b registerEffect[T]) registerEffect[T] {
	switch {
	case !a.set:
		return b
	case !b.set:
		return a
	case a.conflict || b.conflict || a.value != b.value:
		return registerEffect[T]{set: true, conflict: true}
	default:
		return a
	}
}

func (registerTrait[T]) Apply(state RegisterState[T], e registerEffect[T]) RegisterState[T] {
	switch {
	case !e.set:
		return state
	case e.conflict:
		return RegisterState[T]{Value: state.Value, Conflicted: true}
	default:
		return RegisterState[T]{Value: e.value}
	}
}

// Register is a last-writer-wins cell.
type Register[W any, T comparable] struct {
	q timeline.Query[W, T, RegisterState[T]]
}

// NewRegister registers a register cell named name.
func NewRegister[W any, T comparable](b *timeline.Builder[W], name string, initial T) (Register[W, T], error) {
	q, err := timeline.Register[W](b, RegisterState[T]{Value: initial},
		timeline.Applicator[registerEffect[T], RegisterState[T]](registerTrait[T]{}),
		timeline.Projection[T, registerEffect[T]](func(v T) registerEffect[T] {
			return registerEffect[T]{set: true, value: v}
		}),
		timeline.WithName(name))
	if err != nil {
		return Register[W, T]{}, fmt.Errorf("register %q: %w", name, err)
	}
	return Register[W, T]{q: q}, nil
}

// Set returns the emission that writes v.
func (r Register[W, T]) Set(v T) timeline.Emission[W] { return r.q.Emit(v) }

// Get reads the register. ok is false while it is conflicted.
func (r Register[W, T]) Get(q timeline.Querier[W]) (v T, ok bool, err error) {
	s, err := r.q.Get(q)
	if err != nil {
		return v, false, err
	}
	return s.Value, !s.Conflicted, nil
}

// State reads the full register state.
func (r Register[W, T]) State(q timeline.Querier[W]) (RegisterState[T], error) { return r.q.Get(q) }

// Name returns the cell name.
func (r Register[W, T]) Name() string { return r.q.Name() }
