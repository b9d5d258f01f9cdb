// Package engine executes tasks by deterministic replay.
//
// There is no native suspend/resume. A task is a plain function that is run
// from the start on every resumption, guided by its breadcrumb log: an
// append-only record of the decisions earlier executions already made
// (where the task advanced to, which children it spawned). While the log
// has entries the primitives fast-forward through them. At the end of the
// log a suspending primitive parks the task and hands the driver a
// Suspension describing what it is waiting for.
//
// ARCHITECTURE:
//
// Execute runs one attempt of one task against an explicit *Context. It
// never mutates shared state: effects emitted since the last consumed
// Advance come back in Outcome.Batch, children to register come back in
// Outcome.Spawns, and the caller (the simulation driver) commits both.
// Effects emitted before that Advance were already committed by an earlier
// attempt; replay recomputes them and discards them.
//
// Replay divergence (a breadcrumb of the wrong kind at the cursor) is a
// defect of the task, not a recoverable condition. Execute reports it as a
// Fatal outcome carrying a *ReplayError and the run must stop.
package engine
