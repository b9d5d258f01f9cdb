package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/merlin/internal/ir"
)

// Snapshot captures everything a scenario run produced that must stay
// stable across runs and worker counts.
type Snapshot struct {
	ScenarioName string
	EndInstant   ir.Duration
	RunError     string
	Spans        []ir.SpanRecord
	Transcript   []ir.TranscriptRecord
	Samples      []ir.SampleRecord
	Final        ir.ValueMap
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: name,
		EndInstant:   result.EndInstant,
		RunError:     result.RunError,
		Spans:        result.Spans,
		Transcript:   result.Transcript,
		Samples:      result.Samples,
		Final:        result.Final,
	}
}

// value converts the snapshot to an ir.Value for canonical serialization.
// Transcript digests are left out; the entries they hash are included.
func (s Snapshot) value() ir.ValueMap {
	spans := make(ir.List, len(s.Spans))
	for i, sp := range s.Spans {
		m := ir.ValueMap{
			"activity_id": ir.String(sp.ActivityID),
			"type":        ir.String(sp.Type),
			"start":       ir.Int(sp.Start),
			"end":         ir.Int(sp.End),
			"status":      ir.String(sp.Status),
			"attempts":    ir.Int(sp.Attempts),
		}
		if sp.ParentID != "" {
			m["parent_id"] = ir.String(sp.ParentID)
		}
		if sp.Result != nil {
			m["result"] = sp.Result
		}
		if sp.Error != "" {
			m["error"] = ir.String(sp.Error)
		}
		spans[i] = m
	}

	transcripts := make(ir.List, len(s.Transcript))
	for i, tr := range s.Transcript {
		entries := make(ir.List, len(tr.Entries))
		for j, e := range tr.Entries {
			em := ir.ValueMap{
				"kind":    ir.String(e.Kind),
				"instant": ir.Int(e.Instant),
			}
			if e.ChildID != "" {
				em["child_id"] = ir.String(e.ChildID)
			}
			entries[j] = em
		}
		transcripts[i] = ir.ValueMap{
			"activity_id": ir.String(tr.ActivityID),
			"entries":     entries,
		}
	}

	samples := make(ir.List, len(s.Samples))
	for i, sm := range s.Samples {
		v := sm.Value
		if v == nil {
			v = ir.Null{}
		}
		samples[i] = ir.ValueMap{
			"cell":    ir.String(sm.Cell),
			"instant": ir.Int(sm.Instant),
			"value":   v,
		}
	}

	final := s.Final
	if final == nil {
		final = ir.ValueMap{}
	}
	out := ir.ValueMap{
		"scenario_name": ir.String(s.ScenarioName),
		"end_instant":   ir.Int(s.EndInstant),
		"spans":         spans,
		"transcripts":   transcripts,
		"samples":       samples,
		"final":         final,
	}
	if s.RunError != "" {
		out["run_error"] = ir.String(s.RunError)
	}
	return out
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.value())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
