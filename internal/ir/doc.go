// Package ir provides the foundational value and record types for merlin.
//
// Every other internal package imports ir; ir imports nothing internal.
//
// Key design constraints:
//   - no float types anywhere; simulated quantities are int64 in fixed units
//   - simulated time is a Duration in microseconds, never wall-clock time
//   - all JSON tags use snake_case
//   - digests are SHA-256 over canonical JSON with a domain prefix
package ir
