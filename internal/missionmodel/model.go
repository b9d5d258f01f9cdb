package missionmodel

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// ActivityType is one kind of activity a model can simulate.
type ActivityType[W any] struct {
	Name        string
	Description string

	// Validate reports argument problems. Nil accepts any arguments.
	Validate func(args ir.ValueMap) []ValidationError

	// Task builds the task body for one instance.
	Task func(args ir.ValueMap) engine.Task[W]
}

// Model binds a schema to its activity types. Register everything before
// the first simulation; lookups are safe for concurrent use.
type Model[W any] struct {
	name   string
	schema *timeline.Schema[W]

	mu      sync.RWMutex
	types   map[string]ActivityType[W]
	daemons []string
}

// NewModel creates an empty model over schema.
func NewModel[W any](name string, schema *timeline.Schema[W]) *Model[W] {
	return &Model[W]{
		name:   name,
		schema: schema,
		types:  make(map[string]ActivityType[W]),
	}
}

// Name returns the model name.
func (m *Model[W]) Name() string { return m.name }

// Schema returns the model's schema.
func (m *Model[W]) Schema() *timeline.Schema[W] { return m.schema }

// Resources lists the model's cells in schema order.
func (m *Model[W]) Resources() []timeline.CellInfo { return m.schema.Cells() }

// Register adds an activity type.
func (m *Model[W]) Register(at ActivityType[W]) error {
	if at.Name == "" {
		return fmt.Errorf("register activity type: empty name")
	}
	if at.Task == nil {
		return fmt.Errorf("register activity type %q: nil task", at.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.types[at.Name]; dup {
		return fmt.Errorf("register activity type %q: already registered", at.Name)
	}
	m.types[at.Name] = at
	return nil
}

// RegisterDaemon adds an activity type that the driver starts once at
// instant zero of every run.
func (m *Model[W]) RegisterDaemon(at ActivityType[W]) error {
	if err := m.Register(at); err != nil {
		return err
	}
	m.mu.Lock()
	m.daemons = append(m.daemons, at.Name)
	m.mu.Unlock()
	return nil
}

// Lookup returns the activity type called name.
func (m *Model[W]) Lookup(name string) (ActivityType[W], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.types[name]
	return at, ok
}

// ActivityTypes returns the registered type names, sorted.
func (m *Model[W]) ActivityTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Daemons returns the daemon types in registration order.
func (m *Model[W]) Daemons() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.daemons)
}

// NewTask returns the task for one instance of activityType.
func (m *Model[W]) NewTask(activityType string, args ir.ValueMap) (engine.Task[W], error) {
	at, ok := m.Lookup(activityType)
	if !ok {
		return nil, fmt.Errorf("%w %q in model %s", ErrUnknownType, activityType, m.name)
	}
	return at.Task(args), nil
}

// ValidateDirective checks one directive's type and arguments.
func (m *Model[W]) ValidateDirective(d ir.ActivityDirective) []ValidationError {
	var errs []ValidationError
	if d.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "directive id is required", Code: ErrMissingID})
	}
	if d.StartOffset.Negative() {
		errs = append(errs, ValidationError{
			Field:   "start",
			Message: fmt.Sprintf("start offset %s is negative", d.StartOffset),
			Code:    ErrNegativeOffset,
		})
	}
	at, ok := m.Lookup(d.Type)
	if !ok {
		return append(errs, ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown activity type %q (known: %v)", d.Type, m.ActivityTypes()),
			Code:    ErrUnknownActivityType,
		})
	}
	if at.Validate != nil {
		errs = append(errs, at.Validate(d.Args)...)
	}
	return errs
}

// ValidatePlan checks every directive of p. Field paths are prefixed with
// the directive's position. Returns all errors found (does not fail-fast).
func (m *Model[W]) ValidatePlan(p *ir.Plan) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]int, len(p.Activities))
	for i, d := range p.Activities {
		prefix := fmt.Sprintf("activities[%d]", i)
		if first, dup := seen[d.ID]; dup && d.ID != "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("id %q already used by activities[%d]", d.ID, first),
				Code:    ErrDuplicateActivity,
			})
		} else {
			seen[d.ID] = i
		}
		for _, e := range m.ValidateDirective(d) {
			e.Field = prefix + "." + e.Field
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		slog.Debug("plan rejected", "model", m.name, "plan", p.Name, "errors", len(errs))
	}
	return errs
}

// Sample converts a cell state for results. States implementing Sampled
// choose their own form; other states go through ir.FromAny.
func (m *Model[W]) Sample(_ string, state any) (ir.Value, bool) {
	if s, ok := state.(Sampled); ok {
		return s.Sample(), true
	}
	if v, err := ir.FromAny(state); err == nil {
		return v, true
	}
	return ir.String(fmt.Sprint(state)), true
}

// Resource samples the cell called name at t.
func (m *Model[W]) Resource(t *timeline.Time[W], name string) (ir.Value, bool) {
	for _, c := range m.schema.Cells() {
		if c.Name != name {
			continue
		}
		state, ok := t.Value(c.Index)
		if !ok {
			return nil, false
		}
		return m.Sample(name, state)
	}
	return nil, false
}
