package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/merlin/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the activity's transcript when one is involved, to help
// debug the failure.
type AssertionError struct {
	Type     string               // Assertion type for categorization
	Expected string               // Human-readable expected outcome
	Actual   string               // Human-readable actual outcome
	Entries  []ir.TranscriptEntry // Transcript of the activity, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Entries) > 0 {
		fmt.Fprintf(&buf, "\nTranscript:\n")
		for i, entry := range e.Entries {
			fmt.Fprintf(&buf, "  [%d] %s @ %s", i, entry.Kind, entry.Instant)
			if entry.ChildID != "" {
				fmt.Fprintf(&buf, " -> %s", entry.ChildID)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertFinalValue checks a cell's value at the end of the run.
func assertFinalValue(result *Result, a Assertion) error {
	want, err := ir.FromAny(a.Value)
	if err != nil {
		return fmt.Errorf("final_value %s: %w", a.Cell, err)
	}
	got, ok := result.Final[a.Cell]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("cell %s = %s", a.Cell, render(want)),
			Actual:   fmt.Sprintf("no cell %s (cells: %s)", a.Cell, strings.Join(result.Final.SortedKeys(), ", ")),
		}
	}
	if !valuesEqual(got, want) {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("cell %s = %s", a.Cell, render(want)),
			Actual:   fmt.Sprintf("cell %s = %s", a.Cell, render(got)),
		}
	}
	return nil
}

// assertSpanStatus checks how an activity ended, and optionally a subset of
// its result fields.
func assertSpanStatus(result *Result, a Assertion) error {
	entries := transcriptEntries(result, a.Activity)
	span, ok := result.Span(a.Activity)
	if !ok {
		return &AssertionError{
			Type:     AssertSpanStatus,
			Expected: fmt.Sprintf("activity %s %s", a.Activity, a.Status),
			Actual:   "activity not found in results",
		}
	}
	if string(span.Status) != a.Status {
		actual := fmt.Sprintf("activity %s %s", a.Activity, span.Status)
		if span.Error != "" {
			actual += ": " + span.Error
		}
		return &AssertionError{
			Type:     AssertSpanStatus,
			Expected: fmt.Sprintf("activity %s %s", a.Activity, a.Status),
			Actual:   actual,
			Entries:  entries,
		}
	}
	if len(a.Result) == 0 {
		return nil
	}

	want, err := ir.MapFromAny(a.Result)
	if err != nil {
		return fmt.Errorf("span_status %s: result: %w", a.Activity, err)
	}
	got, _ := span.Result.(ir.ValueMap)
	for _, key := range want.SortedKeys() {
		actual, exists := got[key]
		if !exists {
			return &AssertionError{
				Type:     AssertSpanStatus,
				Expected: fmt.Sprintf("result field %q = %s", key, render(want[key])),
				Actual:   fmt.Sprintf("result %s has no field %q", render(span.Result), key),
				Entries:  entries,
			}
		}
		if !valuesEqual(actual, want[key]) {
			return &AssertionError{
				Type:     AssertSpanStatus,
				Expected: fmt.Sprintf("result field %q = %s", key, render(want[key])),
				Actual:   fmt.Sprintf("result field %q = %s", key, render(actual)),
				Entries:  entries,
			}
		}
	}
	return nil
}

// assertSpanCount counts spans matching the optional type and status filters.
func assertSpanCount(result *Result, a Assertion) error {
	count := 0
	for _, s := range result.Spans {
		if a.ActivityType != "" && s.Type != a.ActivityType {
			continue
		}
		if a.Status != "" && string(s.Status) != a.Status {
			continue
		}
		count++
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertSpanCount,
			Expected: fmt.Sprintf("%d spans matching %s", a.Count, describeFilter(a)),
			Actual:   fmt.Sprintf("%d spans", count),
		}
	}
	return nil
}

// assertTranscriptKinds checks an activity's breadcrumb kinds in order.
func assertTranscriptKinds(result *Result, a Assertion) error {
	tr, ok := result.TranscriptOf(a.Activity)
	if !ok {
		return &AssertionError{
			Type:     AssertTranscriptKinds,
			Expected: fmt.Sprintf("transcript of %s", a.Activity),
			Actual:   "activity not found in results",
		}
	}
	kinds := make([]string, len(tr.Entries))
	for i, e := range tr.Entries {
		kinds[i] = e.Kind
	}
	if !slices.Equal(kinds, a.Kinds) {
		return &AssertionError{
			Type:     AssertTranscriptKinds,
			Expected: fmt.Sprintf("kinds %v", a.Kinds),
			Actual:   fmt.Sprintf("kinds %v", kinds),
			Entries:  tr.Entries,
		}
	}
	return nil
}

func transcriptEntries(result *Result, id string) []ir.TranscriptEntry {
	tr, _ := result.TranscriptOf(id)
	return tr.Entries
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.ActivityType != "" {
		parts = append(parts, "type="+a.ActivityType)
	}
	if a.Status != "" {
		parts = append(parts, "status="+a.Status)
	}
	if len(parts) == 0 {
		return "(no filter)"
	}
	return strings.Join(parts, " AND ")
}

// valuesEqual compares two values by their canonical encoding, so a YAML
// int and a stored Int compare equal.
func valuesEqual(a, b ir.Value) bool {
	ab, err := ir.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := ir.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func render(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalValue:
			err = assertFinalValue(result, assertion)
		case AssertSpanStatus:
			err = assertSpanStatus(result, assertion)
		case AssertSpanCount:
			err = assertSpanCount(result, assertion)
		case AssertTranscriptKinds:
			err = assertTranscriptKinds(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
