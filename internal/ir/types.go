package ir

import (
	"encoding/json"
	"fmt"
)

// ActivityDirective places one activity instance in a plan.
type ActivityDirective struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	StartOffset Duration `json:"start_offset"`
	Args        ValueMap `json:"args"`
}

// Plan is a finalized set of directives plus mission-model configuration.
type Plan struct {
	Name       string              `json:"name"`
	Horizon    Duration            `json:"horizon"`
	Activities []ActivityDirective `json:"activities"`
	Config     ValueMap            `json:"config"`
}

// SpanStatus is the terminal state of one simulated activity.
type SpanStatus string

const (
	SpanCompleted  SpanStatus = "completed"
	SpanFailed     SpanStatus = "failed"
	SpanIncomplete SpanStatus = "incomplete"
)

// SpanRecord describes one activity instance as it ran in a simulation.
// Daemons and spawned children get spans too; ParentID is empty for
// directives and daemons.
type SpanRecord struct {
	ActivityID string     `json:"activity_id"`
	Type       string     `json:"type"`
	ParentID   string     `json:"parent_id,omitempty"`
	Start      Duration   `json:"start"`
	End        Duration   `json:"end"`
	Status     SpanStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	Result     Value      `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SampleRecord is the value of one named cell after a commit.
type SampleRecord struct {
	Cell    string   `json:"cell"`
	Instant Duration `json:"instant"`
	Value   Value    `json:"value"`
}

// Transcript entry kinds.
const (
	EntryAdvance = "advance"
	EntrySpawn   = "spawn"
)

// TranscriptEntry is the serialisable form of one breadcrumb.
type TranscriptEntry struct {
	Kind    string   `json:"kind"`
	Instant Duration `json:"instant"`
	ChildID string   `json:"child_id,omitempty"`
}

// TranscriptRecord is the final breadcrumb log of one activity.
type TranscriptRecord struct {
	ActivityID string            `json:"activity_id"`
	Digest     string            `json:"digest"`
	Entries    []TranscriptEntry `json:"entries"`
}

// RunStatus is the terminal state of a simulation run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord summarises one simulation run.
type RunRecord struct {
	ID         string    `json:"id"`
	PlanName   string    `json:"plan_name"`
	PlanDigest string    `json:"plan_digest"`
	Horizon    Duration  `json:"horizon"`
	EndInstant Duration  `json:"end_instant"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Seq        int64     `json:"seq"`
}

func (e TranscriptEntry) value() ValueMap {
	m := ValueMap{
		"kind":    String(e.Kind),
		"instant": Int(e.Instant),
	}
	if e.ChildID != "" {
		m["child_id"] = String(e.ChildID)
	}
	return m
}

func (d ActivityDirective) value() ValueMap {
	args := d.Args
	if args == nil {
		args = ValueMap{}
	}
	return ValueMap{
		"id":           String(d.ID),
		"type":         String(d.Type),
		"start_offset": Int(d.StartOffset),
		"args":         args,
	}
}

// UnmarshalJSON decodes a span whose result was written by json.Marshal.
func (s *SpanRecord) UnmarshalJSON(data []byte) error {
	type plain SpanRecord
	var aux struct {
		plain
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SpanRecord(aux.plain)
	if len(aux.Result) > 0 {
		v, err := UnmarshalValue(aux.Result)
		if err != nil {
			return fmt.Errorf("span %s result: %w", s.ActivityID, err)
		}
		s.Result = v
	}
	return nil
}

// UnmarshalJSON decodes a sample whose value was written by json.Marshal.
func (s *SampleRecord) UnmarshalJSON(data []byte) error {
	type plain SampleRecord
	var aux struct {
		plain
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = SampleRecord(aux.plain)
	v, err := UnmarshalValue(aux.Value)
	if err != nil {
		return fmt.Errorf("sample %s value: %w", s.Cell, err)
	}
	s.Value = v
	return nil
}
