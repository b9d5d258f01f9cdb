// Package simulation drives tasks to completion over a shared timeline.
//
// The driver owns the authoritative timeline and is its only writer. It
// processes simulated instants in increasing order. At each instant it runs
// waves: every task ready at the instant executes once against its
// breadcrumb log (in parallel, on a bounded worker pool), then the batches
// of the whole wave are committed together with effect.Concurrently, in
// task creation order. Children spawned in a wave, and tasks woken by
// completions or by the commit, run in the next wave at the same instant.
// When no task is ready the driver moves to the next scheduled instant.
//
// Wake-ups append Advance(now) to the task's log, so the next execution
// replays to the suspension point and continues from the committed state.
package simulation
