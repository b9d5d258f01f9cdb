package engine

import (
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/timeline"
)

// Breadcrumb kinds, as they appear in errors and transcripts.
const (
	KindAdvance = ir.EntryAdvance
	KindSpawn   = ir.EntrySpawn
)

// Breadcrumb is one recorded decision of a task: Advance or Spawn.
type Breadcrumb[W any] interface {
	Kind() string
	breadcrumb()
}

// Advance records that the task moved on to Next after a delay or wait.
// The first entry of every log is an Advance seeding the task's start.
type Advance[W any] struct {
	Next *timeline.Time[W]
}

// Spawn records that the task created the child ChildID.
type Spawn[W any] struct {
	ChildID string
}

func (Advance[W]) Kind() string { return KindAdvance }
func (Spawn[W]) Kind() string   { return KindSpawn }

func (Advance[W]) breadcrumb() {}
func (Spawn[W]) breadcrumb()   {}

// Seed returns the one-entry log that starts a task at t.
func Seed[W any](t *timeline.Time[W]) []Breadcrumb[W] {
	return []Breadcrumb[W]{Advance[W]{Next: t}}
}

// Transcript converts a log into its serialisable form. Spawn entries carry
// the instant of the Advance preceding them.
func Transcript[W any](log []Breadcrumb[W]) []ir.TranscriptEntry {
	out := make([]ir.TranscriptEntry, 0, len(log))
	var instant ir.Duration
	for _, b := range log {
		switch bc := b.(type) {
		case Advance[W]:
			if bc.Next != nil {
				instant = bc.Next.Instant()
			}
			out = append(out, ir.TranscriptEntry{Kind: KindAdvance, Instant: instant})
		case Spawn[W]:
			out = append(out, ir.TranscriptEntry{Kind: KindSpawn, Instant: instant, ChildID: bc.ChildID})
		}
	}
	return out
}
