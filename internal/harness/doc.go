// Package harness runs YAML simulation scenarios and checks their results.
//
// A scenario names a CUE plan file, optional overrides for the plan's
// horizon and mission-model configuration, and a list of assertions:
//
//	name: single_image
//	description: one image is taken, compressed and stored
//	plan: ../plans/single_image.cue
//	assertions:
//	  - type: final_value
//	    cell: data_volume
//	    value: 30
//	  - type: span_status
//	    activity: img
//	    status: completed
//	  - type: transcript_kinds
//	    activity: img
//	    kinds: [advance, advance, spawn, advance]
//
// Run simulates the plan against the spacecraft model with readable,
// deterministic child ids (testutil.PathGenerator), round-trips the results
// through an in-memory store, and evaluates the assertions against what the
// store returns. RunWithGolden additionally compares a canonical JSON
// snapshot of the run against testdata/golden/<name>.golden.
package harness
