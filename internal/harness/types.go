package harness

import "github.com/roach88/merlin/internal/ir"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the simulation finished and every assertion held.
	Pass bool `json:"pass"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// RunID is the id the run was stored under.
	RunID string `json:"run_id"`

	// RunError is the run-terminating error, if any. Results gathered up to
	// that point are still reported.
	RunError string `json:"run_error,omitempty"`

	// EndInstant is the last simulated instant.
	EndInstant ir.Duration `json:"end_instant"`

	// Spans, Transcript and Samples are read back from the store.
	Spans      []ir.SpanRecord       `json:"spans"`
	Transcript []ir.TranscriptRecord `json:"transcript"`
	Samples    []ir.SampleRecord     `json:"samples"`

	// Final holds every cell's value at EndInstant.
	Final ir.ValueMap `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Errors:     []string{},
		Spans:      []ir.SpanRecord{},
		Transcript: []ir.TranscriptRecord{},
		Samples:    []ir.SampleRecord{},
		Final:      ir.ValueMap{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Span returns the span of activity id.
func (r *Result) Span(id string) (ir.SpanRecord, bool) {
	for _, s := range r.Spans {
		if s.ActivityID == id {
			return s, true
		}
	}
	return ir.SpanRecord{}, false
}

// TranscriptOf returns the transcript of activity id.
func (r *Result) TranscriptOf(id string) (ir.TranscriptRecord, bool) {
	for _, tr := range r.Transcript {
		if tr.ActivityID == id {
			return tr, true
		}
	}
	return ir.TranscriptRecord{}, false
}
