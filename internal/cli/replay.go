package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	KernelOptions
	RunID string // optional - specific run only
}

// Mismatch describes one activity whose replayed transcript differs from
// the stored one.
type Mismatch struct {
	ActivityID string `json:"activity_id"`
	Stored     string `json:"stored,omitempty"`   // stored digest, empty if absent
	Replayed   string `json:"replayed,omitempty"` // replayed digest, empty if absent
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID         string      `json:"run_id"`
	Plan          string      `json:"plan"`
	Activities    int         `json:"activities"`
	StoredEnd     ir.Duration `json:"stored_end"`
	ReplayedEnd   ir.Duration `json:"replayed_end"`
	StatusMatch   bool        `json:"status_match"`
	Mismatches    []Mismatch  `json:"mismatches,omitempty"`
	Deterministic bool        `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-simulate stored runs and verify determinism",
		Long: `Re-simulate stored runs from their stored plans and compare the results.

Every activity's transcript digest must match the stored digest, the run
must end at the same instant, and it must terminate the same way. Without
--run every stored run is replayed in sequence order.

Exit codes:
  0 - All runs replayed identically
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, run not found, etc.)

Examples:
  merlin replay --db ./merlin.db
  merlin replay --db ./merlin.db --run 0190df5e-6f1c-7c2a-9d55-1b0f4c8e2a11
  merlin replay --db ./merlin.db --workers 1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	opts.KernelOptions.register(cmd)
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer sess.close()
	opts.KernelOptions.resolve(cmd, sess.cfg)

	st, err := store.Open(opts.Database)
	if err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	var runs []ir.RunRecord
	if opts.RunID != "" {
		run, err := st.ReadRun(ctx, opts.RunID)
		if errors.Is(err, sql.ErrNoRows) {
			return fail(sess.out, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
		}
		if err != nil {
			return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to read run", err)
		}
		runs = []ir.RunRecord{run}
	} else if runs, err = st.ListRuns(ctx); err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runs)),
		TotalRuns:        len(runs),
		AllDeterministic: true,
	}
	for _, run := range runs {
		runResult, err := replayRun(ctx, sess, st, run, opts.KernelOptions)
		if err != nil {
			return fail(sess.out, ExitCommandError, ErrCodeReplay, fmt.Sprintf("failed to replay run %s", run.ID), err)
		}
		result.Runs = append(result.Runs, runResult)
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.AllDeterministic {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeReplay, Message: "determinism verification failed"}
		}
		if err := sess.out.Respond(resp); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// replayRun re-simulates one stored run and compares it with what was
// stored.
func replayRun(ctx context.Context, sess *session, st *store.Store, run ir.RunRecord, k KernelOptions) (ReplayRunResult, error) {
	plan, err := st.ReadPlan(ctx, run.ID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	stored, err := st.ReadTranscripts(ctx, run.ID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	model, err := newModel(plan)
	if err != nil {
		return ReplayRunResult{}, err
	}
	res, simErr := sess.simulate(ctx, model, plan, k)
	if res == nil {
		return ReplayRunResult{}, fmt.Errorf("simulation did not start: %w", simErr)
	}
	sess.logger.Debug("run replayed", "run_id", run.ID, "end_instant", res.EndInstant.String())

	out := ReplayRunResult{
		RunID:       run.ID,
		Plan:        run.PlanName,
		Activities:  len(res.Transcripts),
		StoredEnd:   run.EndInstant,
		ReplayedEnd: res.EndInstant,
		StatusMatch: (simErr != nil) == (run.Status == ir.RunFailed),
		Mismatches:  compareTranscripts(stored, res.Transcripts),
	}
	out.Deterministic = out.StatusMatch && out.StoredEnd == out.ReplayedEnd && len(out.Mismatches) == 0
	return out, nil
}

// compareTranscripts lists every activity whose digest differs, including
// activities present on only one side. Stored order comes first, then
// replayed-only activities in replay order.
func compareTranscripts(stored, replayed []ir.TranscriptRecord) []Mismatch {
	digests := make(map[string]string, len(replayed))
	for _, t := range replayed {
		digests[t.ActivityID] = t.Digest
	}
	seen := make(map[string]bool, len(stored))

	var out []Mismatch
	for _, t := range stored {
		seen[t.ActivityID] = true
		if d, ok := digests[t.ActivityID]; !ok || d != t.Digest {
			out = append(out, Mismatch{ActivityID: t.ActivityID, Stored: t.Digest, Replayed: d})
		}
	}
	for _, t := range replayed {
		if !seen[t.ActivityID] {
			out = append(out, Mismatch{ActivityID: t.ActivityID, Replayed: t.Digest})
		}
	}
	return out
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n", result.TotalRuns)
	fmt.Fprintln(w)

	for _, run := range result.Runs {
		status := "✓"
		if !run.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Run: %s (%s)\n", status, run.RunID, run.Plan)
		fmt.Fprintf(w, "  Activities: %d, ended at %s\n", run.Activities, run.ReplayedEnd)

		if verbose {
			fmt.Fprintf(w, "  Stored end:  %s\n", run.StoredEnd)
			fmt.Fprintf(w, "  Status match: %v\n", run.StatusMatch)
		}
		for _, m := range run.Mismatches {
			fmt.Fprintf(w, "  Mismatch: %s stored=%s replayed=%s\n",
				m.ActivityID, digestOrDash(m.Stored), digestOrDash(m.Replayed))
		}
		if !run.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All runs verified deterministic")
		return
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
}

func digestOrDash(d string) string {
	if d == "" {
		return "-"
	}
	return truncateID(d)
}
