package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/merlin/internal/ir"
)

// marshalValue converts a Value to canonical JSON TEXT for storage. A nil
// Value (no result) is stored as the empty string.
func marshalValue(v ir.Value) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored JSON TEXT back into a Value. Integers keep
// full int64 precision (json.Number under the hood).
func unmarshalValue(data string) (ir.Value, error) {
	if data == "" {
		return nil, nil
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// marshalJSON encodes structured records (plans, transcript entries) with
// HTML escaping disabled, so stored text matches canonical output for the
// strings involved.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalPlan(p *ir.Plan) (string, error) {
	data, err := marshalJSON(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return data, nil
}

func unmarshalPlan(data string) (*ir.Plan, error) {
	var p ir.Plan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	for i := range p.Activities {
		if p.Activities[i].Args == nil {
			p.Activities[i].Args = ir.ValueMap{}
		}
	}
	if p.Config == nil {
		p.Config = ir.ValueMap{}
	}
	return &p, nil
}

func marshalEntries(entries []ir.TranscriptEntry) (string, error) {
	if entries == nil {
		entries = []ir.TranscriptEntry{}
	}
	data, err := marshalJSON(entries)
	if err != nil {
		return "", fmt.Errorf("marshal transcript entries: %w", err)
	}
	return data, nil
}

func unmarshalEntries(data string) ([]ir.TranscriptEntry, error) {
	entries := []ir.TranscriptEntry{}
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("unmarshal transcript entries: %w", err)
	}
	return entries, nil
}
