package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/merlin/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run summary with minimal required fields.
func createTestRun(id string, seq int64) ir.RunRecord {
	return ir.RunRecord{
		ID:         id,
		PlanName:   "demo",
		PlanDigest: "digest-" + id,
		Horizon:    ir.Hour,
		EndInstant: ir.Hour,
		Status:     ir.RunCompleted,
		Seq:        seq,
	}
}

// createTestPlan creates a two-directive plan.
func createTestPlan() *ir.Plan {
	return &ir.Plan{
		Name:    "demo",
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			{ID: "a", Type: "take_image", StartOffset: 0, Args: ir.ValueMap{}},
			{ID: "b", Type: "downlink", StartOffset: 2 * ir.Minute, Args: ir.ValueMap{"amount": ir.Int(30)}},
		},
		Config: ir.ValueMap{"battery_capacity": ir.Int(1000)},
	}
}
