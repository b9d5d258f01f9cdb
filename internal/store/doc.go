// Package store provides SQLite-backed durable storage for simulation
// results.
//
// A run is stored as:
//   - Runs: one summary row, including the plan it simulated
//   - Spans: one row per activity instance
//   - Transcripts: each activity's breadcrumb log and its digest
//   - Samples: cell values at the instants they changed
//
// # Ordering
//
// Every table carries a seq column assigned by the writer. All queries
// order by seq ASC, id ASC COLLATE BINARY, so reads return rows in the
// order the simulation produced them regardless of wall time.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING: storing the same run twice leaves the
// first copy untouched. WriteResultsAtomic writes a whole run in one
// transaction, so a crash never leaves a run partially stored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values (span results, sample values) are stored as RFC 8785 canonical
// JSON produced by ir.MarshalCanonical.
package store
