package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
	"github.com/roach88/merlin/internal/simulation"
	"github.com/roach88/merlin/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	KernelOptions
	Horizon string // overrides the plan horizon
	RunID   string // optional - generated when empty
	Replace bool   // overwrite a stored run with the same id
}

// SimulateResult summarises one stored run.
type SimulateResult struct {
	RunID      string             `json:"run_id"`
	Seq        int64              `json:"seq"`
	Plan       string             `json:"plan"`
	PlanDigest string             `json:"plan_digest"`
	Status     ir.RunStatus       `json:"status"`
	Error      string             `json:"error,omitempty"`
	Horizon    ir.Duration        `json:"horizon"`
	EndInstant ir.Duration        `json:"end_instant"`
	Spans      SpanStats          `json:"spans"`
	Samples    int                `json:"samples"`
	Waves      int                `json:"waves"`
	Attempts   int                `json:"attempts"`
	Final      ir.ValueMap        `json:"final"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// SpanStats counts spans by status.
type SpanStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Incomplete int `json:"incomplete"`
}

func countSpans(spans []ir.SpanRecord) SpanStats {
	stats := SpanStats{Total: len(spans)}
	for _, s := range spans {
		switch s.Status {
		case ir.SpanCompleted:
			stats.Completed++
		case ir.SpanFailed:
			stats.Failed++
		case ir.SpanIncomplete:
			stats.Incomplete++
		}
	}
	return stats
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <plan.cue|plan-dir>",
		Short: "Simulate a plan and store the results",
		Long: `Simulate an activity plan against the spacecraft mission model.

The plan is compiled from CUE, validated against the model, simulated to its
horizon, and stored with its spans, transcripts and resource samples. A run
that terminates with an error is stored too, with status "failed".

Flags override the MERLIN_* environment.

Exit codes:
  0 - Run completed
  1 - Plan rejected or simulation failed
  2 - Command error (plan not found, database error, etc.)

Examples:
  merlin simulate ./plans/demo.cue --db ./merlin.db
  merlin simulate ./plans/demo --horizon 2h --workers 4
  merlin simulate ./plans/demo.cue --format json
  merlin simulate ./plans/demo.cue --run-id nominal --replace`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts, args[0], cmd)
		},
	}

	opts.KernelOptions.register(cmd)
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "override the plan horizon (e.g. 90m; default $MERLIN_HORIZON)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (default a new UUIDv7)")
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "replace a stored run with the same --run-id")

	return cmd
}

func runSimulate(ctx context.Context, opts *SimulateOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer sess.close()
	opts.KernelOptions.resolve(cmd, sess.cfg)

	plan, err := LoadPlan(path)
	if err != nil {
		return failLoad(sess.out, err)
	}
	if err := applyHorizon(plan, opts.Horizon, sess.cfg.Horizon); err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeGeneric, "invalid horizon", err)
	}
	sess.out.VerboseLog("Loaded plan %q: %d directive(s), horizon %s", plan.Name, len(plan.Activities), plan.Horizon)

	model, err := sess.buildModel(plan)
	if err != nil {
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	runID := opts.RunID
	if runID == "" {
		runID = engine.UUIDv7Generator{}.NewID("", 0)
	} else if !opts.Replace {
		_, err := st.ReadRun(ctx, runID)
		if err == nil {
			return fail(sess.out, ExitCommandError, ErrCodeRunExists,
				fmt.Sprintf("run %s already exists (use --replace to overwrite)", runID), nil)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to read run", err)
		}
	}

	start := time.Now()
	res, simErr := sess.simulate(ctx, model, plan, opts.KernelOptions)
	if res == nil {
		return fail(sess.out, ExitFailure, ErrCodeSimulation, "simulation did not start", simErr)
	}
	sess.logger.Info("simulation finished",
		"run_id", runID,
		"plan", plan.Name,
		"end_instant", res.EndInstant.String(),
		"waves", res.Waves,
		"elapsed", time.Since(start),
	)

	run, err := newRunRecord(runID, plan, res, simErr)
	if err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeGeneric, "failed to summarise run", err)
	}
	run, err = st.WriteResultsAtomic(ctx, store.RunData{
		Run:         run,
		Plan:        plan,
		Spans:       res.Spans,
		Transcripts: res.Transcripts,
		Samples:     res.Samples,
		Replace:     opts.Replace,
	})
	if err != nil {
		return fail(sess.out, ExitCommandError, ErrCodeStore, "failed to store results", err)
	}

	result := newSimulateResult(run, res)
	if opts.Verbose {
		result.Metrics = sess.counters()
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, TraceID: runID}
		if simErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeSimulation, Message: "simulation failed", Details: simErr.Error()}
		}
		if err := sess.out.Respond(resp); err != nil {
			return err
		}
	} else {
		outputSimulateText(cmd.OutOrStdout(), result)
	}

	if simErr != nil {
		return WrapExitError(ExitFailure, "simulation failed", simErr)
	}
	return nil
}

// applyHorizon overrides plan.Horizon with flag, or with env when the flag
// is empty and env is positive.
func applyHorizon(plan *ir.Plan, flag string, env time.Duration) error {
	if flag != "" {
		h, err := ir.ParseDuration(flag)
		if err != nil {
			return err
		}
		if h <= 0 {
			return fmt.Errorf("horizon must be positive, got %s", flag)
		}
		plan.Horizon = h
		return nil
	}
	if env > 0 {
		plan.Horizon = ir.FromStd(env)
	}
	return nil
}

func newSimulateResult(run ir.RunRecord, res *simulation.Results[missionmodel.Spacecraft]) SimulateResult {
	return SimulateResult{
		RunID:      run.ID,
		Seq:        run.Seq,
		Plan:       run.PlanName,
		PlanDigest: run.PlanDigest,
		Status:     run.Status,
		Error:      run.Error,
		Horizon:    run.Horizon,
		EndInstant: run.EndInstant,
		Spans:      countSpans(res.Spans),
		Samples:    len(res.Samples),
		Waves:      res.Waves,
		Attempts:   res.Attempts,
		Final:      res.Final,
	}
}

func outputSimulateText(w io.Writer, r SimulateResult) {
	status := "✓"
	if r.Status != ir.RunCompleted {
		status = "✗"
	}
	fmt.Fprintf(w, "%s Run %s (#%d)\n", status, r.RunID, r.Seq)
	fmt.Fprintf(w, "  Plan:     %s\n", r.Plan)
	fmt.Fprintf(w, "  Horizon:  %s\n", r.Horizon)
	fmt.Fprintf(w, "  Ended at: %s\n", r.EndInstant)
	fmt.Fprintf(w, "  Spans:    %d completed, %d failed, %d incomplete\n",
		r.Spans.Completed, r.Spans.Failed, r.Spans.Incomplete)
	fmt.Fprintf(w, "  Waves:    %d (%d attempts)\n", r.Waves, r.Attempts)
	fmt.Fprintf(w, "  Samples:  %d\n", r.Samples)
	if len(r.Final) > 0 {
		fmt.Fprintln(w, "  Final:")
		for _, k := range r.Final.SortedKeys() {
			fmt.Fprintf(w, "    %s = %s\n", k, formatValue(r.Final[k]))
		}
	}
	if len(r.Metrics) > 0 {
		fmt.Fprintln(w, "  Metrics:")
		for _, name := range sortedKeys(r.Metrics) {
			fmt.Fprintf(w, "    %s = %g\n", name, r.Metrics[name])
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.Error)
	}
}
