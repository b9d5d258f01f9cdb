package testutil

import "strconv"

// PathGenerator names a spawned child "<parent>/<ordinal>", so transcripts
// in golden files stay readable. It implements engine.IDGenerator.
//
// Ids depend only on the parent and the spawn ordinal, which the replay
// protocol fixes, so the generator is deterministic under any worker count.
//
// Thread-safety: PathGenerator is stateless and safe for concurrent use.
type PathGenerator struct{}

// NewID returns parentID + "/" + ordinal.
func (PathGenerator) NewID(parentID string, ordinal int) string {
	return parentID + "/" + strconv.Itoa(ordinal)
}
