package timeline

import (
	"fmt"
	"sync"
)

// Builder accumulates cell registrations. It starts open and closes on the
// first Build; a closed builder rejects Register. Use Extend to add cells
// to a built schema.
type Builder[W any] struct {
	mu    sync.Mutex
	slots []slot[W]
	built *Schema[W]
}

// NewBuilder returns an empty open builder.
func NewBuilder[W any]() *Builder[W] {
	return &Builder[W]{}
}

// Extend returns a new open builder seeded with a copy of s's registrations.
// Indices are preserved and s is not modified, so queries minted against s
// remain valid against schemas built from the new builder.
func Extend[W any](s *Schema[W]) *Builder[W] {
	slots := make([]slot[W], len(s.slots))
	copy(slots, s.slots)
	return &Builder[W]{slots: slots}
}

// RegisterOption configures one registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	name string
}

// WithName sets the cell name used in diagnostics and result samples.
// Unnamed cells are called "cell<index>".
func WithName(name string) RegisterOption {
	return func(c *registerConfig) {
		c.name = name
	}
}

// Register appends a cell to b and returns its query. The cell's index is
// the number of cells registered before it.
//
// Returns a BUILDER_CLOSED *StateError if b has been built.
func Register[W, Ev, F, S any](b *Builder[W], initial S, app Applicator[F, S], proj Projection[Ev, F], opts ...RegisterOption) (Query[W, Ev, S], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := len(b.slots)
	if b.built != nil {
		return Query[W, Ev, S]{}, builderClosedError(index)
	}
	if app == nil || proj == nil {
		return Query[W, Ev, S]{}, fmt.Errorf("register cell %d: applicator and projection are required", index)
	}

	cfg := registerConfig{name: fmt.Sprintf("cell%d", index)}
	for _, opt := range opts {
		opt(&cfg)
	}

	def := newCellDef[W](index, cfg.name, initial, app, proj)
	b.slots = append(b.slots, def)
	return Query[W, Ev, S]{def: def}, nil
}

// Build closes b and returns its schema. Later calls return the same
// *Schema without registering anything.
func (b *Builder[W]) Build() *Schema[W] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built == nil {
		s := &Schema[W]{slots: b.slots}
		s.origin = &Time[W]{schema: s}
		b.built = s
	}
	return b.built
}

// Built reports whether Build has been called.
func (b *Builder[W]) Built() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built != nil
}

// Len returns the number of registered cells.
func (b *Builder[W]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Schema is the closed, ordered list of cells a simulation tracks.
// It is immutable and safe for concurrent use.
type Schema[W any] struct {
	slots  []slot[W]
	origin *Time[W]
}

// Len returns the number of cells.
func (s *Schema[W]) Len() int {
	return len(s.slots)
}

// Origin returns the root Time of the schema: instant zero, every cell at
// its initial state.
func (s *Schema[W]) Origin() *Time[W] {
	return s.origin
}

// CellInfo describes one registered cell.
type CellInfo struct {
	Index int
	Name  string
}

// Cells lists the registered cells in index order.
func (s *Schema[W]) Cells() []CellInfo {
	out := make([]CellInfo, len(s.slots))
	for i, sl := range s.slots {
		out[i] = CellInfo{Index: sl.cellIndex(), Name: sl.cellName()}
	}
	return out
}

func (s *Schema[W]) owns(index int, sl slot[W]) bool {
	return index >= 0 && index < len(s.slots) && s.slots[index] == sl
}

// Query is the capability to read one cell and address events to it.
// The zero Query is invalid.
type Query[W, Ev, S any] struct {
	def *cellDef[W, Ev, S]
}

// Index returns the cell's schema index, or -1 for the zero Query.
func (q Query[W, Ev, S]) Index() int {
	if q.def == nil {
		return -1
	}
	return q.def.index
}

// Name returns the cell's name.
func (q Query[W, Ev, S]) Name() string {
	if q.def == nil {
		return ""
	}
	return q.def.name
}

// Emit addresses ev to the query's cell.
func (q Query[W, Ev, S]) Emit(ev Ev) Emission[W] {
	if q.def == nil {
		return Emission[W]{index: -1, event: ev}
	}
	return Emission[W]{index: q.Index(), owner: q.def, event: ev}
}

// Get reads the cell's value at the querier's Time.
//
// Returns a FOREIGN_QUERY *StateError if the cell is not registered at the
// query's index in the Time's schema.
func (q Query[W, Ev, S]) Get(qr Querier[W]) (S, error) {
	var zero S
	if q.def == nil {
		return zero, foreignQueryError(-1, "zero query")
	}
	t := qr.Time()
	if !t.schema.owns(q.def.index, q.def) {
		return zero, foreignQueryError(q.def.index, q.def.name)
	}
	return t.valueAt(q.def.index).(S), nil
}

// MustGet is like Get but panics on error.
func (q Query[W, Ev, S]) MustGet(qr Querier[W]) S {
	v, err := q.Get(qr)
	if err != nil {
		panic(err)
	}
	return v
}

// Contains reports whether e addresses a cell registered in s.
func (s *Schema[W]) Contains(e Emission[W]) bool {
	return e.owner != nil && s.owns(e.index, e.owner)
}
