package simulation

import (
	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// Results is everything one run produced.
type Results[W any] struct {
	Plan string

	// Spans holds one record per activity instance in creation order:
	// daemons, then directives, then spawned children as they appear.
	Spans []ir.SpanRecord

	// Transcripts holds each activity's final breadcrumb log, in Spans order.
	Transcripts []ir.TranscriptRecord

	// Samples holds cell values at the end of each instant in which they
	// changed.
	Samples []ir.SampleRecord

	// Final holds the sampled value of every cell at EndInstant.
	Final ir.ValueMap

	// Time is the committed timeline at EndInstant.
	Time *timeline.Time[W]

	EndInstant ir.Duration
	Waves      int
	Attempts   int
}

func (r *run[W]) results() *Results[W] {
	end := r.now.Instant()
	res := &Results[W]{
		Plan:       r.plan.Name,
		Samples:    r.samples,
		Final:      ir.ValueMap{},
		Time:       r.now,
		EndInstant: end,
		Waves:      r.waves,
		Attempts:   r.attempts,
	}
	for _, t := range r.tasks {
		span := t.span()
		if t.state != stateDone {
			span.End = end
		}
		res.Spans = append(res.Spans, span)

		entries := engine.Transcript(t.log)
		res.Transcripts = append(res.Transcripts, ir.TranscriptRecord{
			ActivityID: t.id,
			Digest:     ir.MustTranscriptDigest(entries),
			Entries:    entries,
		})
	}
	for _, cell := range r.d.schema.Cells() {
		state, _ := r.now.Value(cell.Index)
		if v, ok := r.d.opts.sampler(cell.Name, state); ok {
			res.Final[cell.Name] = v
		}
	}
	return res
}

// Span returns the span of activity id.
func (r *Results[W]) Span(id string) (ir.SpanRecord, bool) {
	for _, s := range r.Spans {
		if s.ActivityID == id {
			return s, true
		}
	}
	return ir.SpanRecord{}, false
}

// Transcript returns the transcript of activity id.
func (r *Results[W]) Transcript(id string) (ir.TranscriptRecord, bool) {
	for _, t := range r.Transcripts {
		if t.ActivityID == id {
			return t, true
		}
	}
	return ir.TranscriptRecord{}, false
}

// Count returns the number of spans with status.
func (r *Results[W]) Count(status ir.SpanStatus) int {
	n := 0
	for _, s := range r.Spans {
		if s.Status == status {
			n++
		}
	}
	return n
}

// SamplesOf returns the samples of one cell in instant order.
func (r *Results[W]) SamplesOf(cell string) []ir.SampleRecord {
	var out []ir.SampleRecord
	for _, s := range r.Samples {
		if s.Cell == cell {
			out = append(out, s)
		}
	}
	return out
}
