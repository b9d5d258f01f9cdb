package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/merlin/internal/ir"
)

// IDGenerator mints child activity ids at the spawn frontier. The id is
// recorded in the parent's log, so replays never call the generator for a
// child that already exists.
type IDGenerator interface {
	// NewID returns the id of the ordinal-th child spawned by parentID.
	NewID(parentID string, ordinal int) string
}

// UUIDv7Generator mints time-sortable UUIDv7 ids. Ids differ between runs,
// so transcripts containing them are not comparable across runs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a fresh hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID(string, int) string {
	return uuid.Must(uuid.NewV7()).String()
}

// DerivedGenerator derives ids from the parent id and spawn ordinal. The
// same plan always produces the same ids, which makes transcript digests
// comparable across runs. This is the driver's default.
//
// Thread-safety: DerivedGenerator is stateless and safe for concurrent use.
type DerivedGenerator struct{}

// NewID returns ir.DerivedActivityID(parentID, ordinal).
func (DerivedGenerator) NewID(parentID string, ordinal int) string {
	return ir.DerivedActivityID(parentID, ordinal)
}

// FixedGenerator returns predetermined ids in call order, for tests.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal
// mutex, but ids are handed out in call order, so concurrent spawns get
// them in scheduling order.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("child-1", "child-2")
//	gen.NewID("p", 0) // "child-1"
//	gen.NewID("p", 1) // "child-2"
//	gen.NewID("p", 2) // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
//
// Panics if all ids have been consumed, to catch a task spawning more
// children than the test expected.
func (g *FixedGenerator) NewID(string, int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Issued returns how many ids have been handed out.
func (g *FixedGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx
}
