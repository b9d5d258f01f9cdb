package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/merlin/internal/effect"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// SpawnRequest asks the driver to register a new child task. Seed is the
// child's whole initial log: one Advance at the parent's forked Time.
type SpawnRequest[W any] struct {
	ChildID  string
	ParentID string
	Activity string
	Args     ir.ValueMap
	Seed     []Breadcrumb[W]
}

// Context is the state of one execution attempt of one task. It is created
// by Execute and must not be retained after the task returns.
//
// Context is not safe for concurrent use; a task runs on one goroutine.
type Context[W any] struct {
	activityID string
	args       ir.ValueMap
	idgen      IDGenerator

	current  *timeline.Time[W]
	log      []Breadcrumb[W]
	next     int
	children []string
	spawns   []SpawnRequest[W]
	ordinal  int
	replayed int

	// batch holds emissions since the last consumed Advance.
	batch timeline.Graph[W]

	parked *Suspension[W]
	fatal  *ReplayError
}

// ActivityID returns the id of the executing task.
func (c *Context[W]) ActivityID() string { return c.activityID }

// Args returns the task's arguments.
func (c *Context[W]) Args() ir.ValueMap { return c.args }

// Time returns the task's current Time, including its own emissions.
func (c *Context[W]) Time() *timeline.Time[W] { return c.current }

// Querier returns a read capability at the task's current Time.
func (c *Context[W]) Querier() timeline.Querier[W] { return c.current.Querier() }

// Now returns the task's current simulated instant.
func (c *Context[W]) Now() ir.Duration { return c.current.Instant() }

// Children returns the ids of children spawned so far, in spawn order.
func (c *Context[W]) Children() []string { return slices.Clone(c.children) }

// React emits e at the current Time. It never suspends.
//
// Returns a FOREIGN_QUERY *timeline.StateError if e addresses a cell that
// is not part of the task's schema.
func (c *Context[W]) React(e timeline.Emission[W]) error {
	return c.ReactGraph(effect.Atom(e))
}

// ReactGraph emits every event of g, keeping g's shape.
func (c *Context[W]) ReactGraph(g timeline.Graph[W]) error {
	if err := c.blocked(); err != nil {
		return err
	}
	schema := c.current.Schema()
	for _, e := range g.Atoms() {
		if !schema.Contains(e) {
			return &timeline.StateError{
				Code:    timeline.ErrCodeForeignQuery,
				Message: fmt.Sprintf("emission for cell %d is not registered in this schema", e.Index()),
				Index:   e.Index(),
			}
		}
	}
	c.current = c.current.Step(g)
	c.batch = effect.Sequentially(c.batch, g)
	return nil
}

// Delay suspends the task for d of simulated time.
func (c *Context[W]) Delay(d ir.Duration) error {
	if err := c.blocked(); err != nil {
		return err
	}
	if d.Negative() {
		return fmt.Errorf("delay %s: %w", d, timeline.ErrNegativeDuration)
	}
	return c.advanceOrPark(Suspension[W]{Kind: SuspendDefer, Duration: d})
}

// WaitForActivity suspends the task until activity id has finished.
func (c *Context[W]) WaitForActivity(id string) error {
	if err := c.blocked(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("wait for activity: empty activity id")
	}
	return c.advanceOrPark(Suspension[W]{Kind: SuspendAwait, ActivityID: id})
}

// WaitForChildren waits for every child spawned so far, in spawn order.
func (c *Context[W]) WaitForChildren() error {
	for _, id := range slices.Clone(c.children) {
		if err := c.WaitForActivity(id); err != nil {
			return err
		}
	}
	return nil
}

// WaitUntil suspends the task until cond holds.
func (c *Context[W]) WaitUntil(cond Condition[W]) error {
	if err := c.blocked(); err != nil {
		return err
	}
	if cond == nil {
		return errors.New("wait until: nil condition")
	}
	return c.advanceOrPark(Suspension[W]{Kind: SuspendCondition, Condition: cond})
}

// Spawn starts a child task of the named activity with no arguments and
// returns its id. It never suspends.
func (c *Context[W]) Spawn(activity string) (string, error) {
	return c.SpawnWith(activity, nil)
}

// SpawnWith starts a child task with arguments. While replaying it returns
// the id recorded in the log; at the frontier it forks the current Time,
// mints an id and records the spawn.
func (c *Context[W]) SpawnWith(activity string, args ir.ValueMap) (string, error) {
	if err := c.blocked(); err != nil {
		return "", err
	}
	ordinal := c.ordinal
	c.ordinal++

	if c.next < len(c.log) {
		idx := c.next
		bc := c.log[idx]
		sp, ok := bc.(Spawn[W])
		if !ok {
			return "", c.fail(ErrCodeUnexpectedBreadcrumb, idx, KindSpawn, bc.Kind(), "replay diverged from recorded history")
		}
		if sp.ChildID == "" {
			return "", c.fail(ErrCodeInvalidBreadcrumb, idx, KindSpawn, KindSpawn, "spawn breadcrumb has an empty child id")
		}
		c.next++
		c.replayed++
		c.addChild(sp.ChildID)
		return sp.ChildID, nil
	}

	forked := c.current.Fork()
	id := c.idgen.NewID(c.activityID, ordinal)
	if id == "" {
		return "", c.fail(ErrCodeInvalidBreadcrumb, len(c.log), KindSpawn, KindSpawn, "id generator returned an empty child id")
	}
	c.log = append(c.log, Spawn[W]{ChildID: id})
	c.next = len(c.log)
	c.spawns = append(c.spawns, SpawnRequest[W]{
		ChildID:  id,
		ParentID: c.activityID,
		Activity: activity,
		Args:     args.Clone(),
		Seed:     Seed(forked),
	})
	c.addChild(id)
	return id, nil
}

func (c *Context[W]) addChild(id string) {
	if !slices.Contains(c.children, id) {
		c.children = append(c.children, id)
	}
}

// advanceOrPark consumes the next Advance, or parks with s at the frontier.
func (c *Context[W]) advanceOrPark(s Suspension[W]) error {
	if c.next >= len(c.log) {
		c.parked = &s
		return &SuspendedError{Kind: s.Kind}
	}

	idx := c.next
	bc := c.log[idx]
	adv, ok := bc.(Advance[W])
	if !ok {
		return c.fail(ErrCodeUnexpectedBreadcrumb, idx, KindAdvance, bc.Kind(), "replay diverged from recorded history")
	}
	if adv.Next == nil {
		return c.fail(ErrCodeInvalidBreadcrumb, idx, KindAdvance, KindAdvance, "advance breadcrumb has no time")
	}
	c.next++
	c.replayed++
	c.current = adv.Next
	c.batch = effect.Empty[timeline.Emission[W]]()
	return nil
}

// blocked returns the sticky error once the task has parked or failed
// replay.
func (c *Context[W]) blocked() error {
	if c.fatal != nil {
		return c.fatal
	}
	if c.parked != nil {
		return &SuspendedError{Kind: c.parked.Kind}
	}
	return nil
}

func (c *Context[W]) fail(code ReplayErrorCode, idx int, expected, actual, msg string) error {
	c.fatal = &ReplayError{
		Code:       code,
		ActivityID: c.activityID,
		Index:      idx,
		Expected:   expected,
		Actual:     actual,
		Message:    msg,
	}
	return c.fatal
}
