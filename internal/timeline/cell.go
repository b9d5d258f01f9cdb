package timeline

import (
	"fmt"

	"github.com/roach88/merlin/internal/effect"
)

// Applicator is a cell's effect algebra plus the function that applies a
// combined effect to the cell's state. Apply(s, Empty()) must return s.
type Applicator[F, S any] interface {
	effect.EffectTrait[F]
	Apply(state S, eff F) S
}

// Projection maps a cell's event to its effect.
type Projection[Ev, F any] func(Ev) F

// Emission is an event addressed to one cell. Emissions are only created by
// Query.Emit; a cell's projection sees its own emissions and nothing else.
type Emission[W any] struct {
	index int
	owner slot[W]
	event any
}

// Index returns the schema index of the target cell.
func (e Emission[W]) Index() int { return e.index }

// Event returns the addressed event.
func (e Emission[W]) Event() any { return e.event }

// String renders the emission as "name:event" for graph diagnostics.
func (e Emission[W]) String() string {
	if e.owner == nil {
		return fmt.Sprintf("#%d:%v", e.index, e.event)
	}
	return fmt.Sprintf("%s:%v", e.owner.cellName(), e.event)
}

// Graph is an event graph over emissions of world W.
type Graph[W any] = effect.EventGraph[Emission[W]]

// slot is the type-erased view of a registered cell held by a schema.
type slot[W any] interface {
	cellIndex() int
	cellName() string
	initialState() any
	// Spelled out rather than Graph[W]: the alias here triggers a gc ICE
	// when importing this package (go1.25/1.26).
	evolve(state any, g effect.EventGraph[Emission[W]]) any
}

// cellDef is one registered cell. Queries and emissions hold a pointer to
// it; pointer identity is cell identity.
type cellDef[W, Ev, S any] struct {
	index   int
	name    string
	initial S
	fold    func(S, Graph[W]) S
}

func (c *cellDef[W, Ev, S]) cellIndex() int    { return c.index }
func (c *cellDef[W, Ev, S]) cellName() string  { return c.name }
func (c *cellDef[W, Ev, S]) initialState() any { return c.initial }

func (c *cellDef[W, Ev, S]) evolve(state any, g Graph[W]) any {
	return c.fold(state.(S), g)
}

func newCellDef[W, Ev, F, S any](index int, name string, initial S, app Applicator[F, S], proj Projection[Ev, F]) *cellDef[W, Ev, S] {
	def := &cellDef[W, Ev, S]{index: index, name: name, initial: initial}
	def.fold = func(state S, g Graph[W]) S {
		eff := effect.Evaluate(g, app, func(e Emission[W]) F {
			if e.owner != slot[W](def) {
				return app.Empty()
			}
			return proj(e.event.(Ev))
		})
		return app.Apply(state, eff)
	}
	return def
}
