package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/config"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - latest run when empty
	Activity string // optional - one activity and its children
	Cell     string // optional - samples of one cell
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run         ir.RunRecord          `json:"run"`
	Spans       []ir.SpanRecord       `json:"spans"`
	Transcripts []ir.TranscriptRecord `json:"transcripts"`
	Samples     []ir.SampleRecord     `json:"samples"`
	Stats       TraceStats            `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Spans       SpanStats `json:"spans"`
	Breadcrumbs int       `json:"breadcrumbs"`
	Spawns      int       `json:"spawns"`
	Samples     int       `json:"samples"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the spans, transcripts and samples of a stored run",
		Long: `Show what happened in a stored run.

The output includes:
- Spans: every activity instance with its status, nested under its parent
- Transcripts: each activity's breadcrumbs (advances and spawns)
- Samples: resource values at the end of each instant they changed
- Stats: summary counts

With --activity the trace is limited to that activity, its direct children,
and samples taken while it ran.

Examples:
  merlin trace --db ./merlin.db
  merlin trace --db ./merlin.db --run <run-id> --activity img
  merlin trace --db ./merlin.db --cell battery --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $MERLIN_DB)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to trace (default latest)")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "filter to one activity and its children")
	cmd.Flags().StringVar(&opts.Cell, "cell", "", "filter samples to one cell")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	if !cmd.Flags().Changed("db") {
		cfg, err := config.Load()
		if err != nil {
			return fail(out, ExitCommandError, ErrCodeGeneric, "invalid environment configuration", err)
		}
		opts.Database = cfg.DB
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return fail(out, ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	run, err := readTraceRun(ctx, st, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		msg := "no runs in database"
		if opts.RunID != "" {
			msg = fmt.Sprintf("run %s not found", opts.RunID)
		}
		return fail(out, ExitCommandError, ErrCodeNotFound, msg, nil)
	}
	if err != nil {
		return fail(out, ExitCommandError, ErrCodeStore, "failed to read run", err)
	}

	result, err := buildTrace(ctx, st, run, opts.Activity, opts.Cell)
	if errors.Is(err, sql.ErrNoRows) {
		return fail(out, ExitCommandError, ErrCodeNotFound,
			fmt.Sprintf("activity %s not found in run %s", opts.Activity, run.ID), nil)
	}
	if err != nil {
		return fail(out, ExitCommandError, ErrCodeStore, "failed to build trace", err)
	}

	if opts.Format == "json" {
		return out.Respond(CLIResponse{Status: "ok", Data: result, TraceID: run.ID})
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

func readTraceRun(ctx context.Context, st *store.Store, id string) (ir.RunRecord, error) {
	if id == "" {
		return st.LatestRun(ctx)
	}
	return st.ReadRun(ctx, id)
}

// buildTrace reads one run back from the store. A non-empty activity limits
// spans to it and its children, transcripts to those spans, and samples to
// the activity's lifetime.
func buildTrace(ctx context.Context, st *store.Store, run ir.RunRecord, activity, cell string) (TraceResult, error) {
	result := TraceResult{Run: run}

	var err error
	if activity == "" {
		if result.Spans, err = st.ReadSpans(ctx, run.ID); err != nil {
			return TraceResult{}, err
		}
	} else {
		span, err := st.ReadSpan(ctx, run.ID, activity)
		if err != nil {
			return TraceResult{}, err
		}
		children, err := st.ReadChildSpans(ctx, run.ID, activity)
		if err != nil {
			return TraceResult{}, err
		}
		result.Spans = append([]ir.SpanRecord{span}, children...)
	}

	transcripts, err := st.ReadTranscripts(ctx, run.ID)
	if err != nil {
		return TraceResult{}, err
	}
	samples, err := st.ReadSamples(ctx, run.ID, cell)
	if err != nil {
		return TraceResult{}, err
	}

	if activity == "" {
		result.Transcripts = transcripts
		result.Samples = samples
	} else {
		keep := make(map[string]bool, len(result.Spans))
		for _, s := range result.Spans {
			keep[s.ActivityID] = true
		}
		result.Transcripts = make([]ir.TranscriptRecord, 0, len(result.Spans))
		for _, t := range transcripts {
			if keep[t.ActivityID] {
				result.Transcripts = append(result.Transcripts, t)
			}
		}
		start, end := result.Spans[0].Start, result.Spans[0].End
		result.Samples = make([]ir.SampleRecord, 0, len(samples))
		for _, s := range samples {
			if s.Instant >= start && s.Instant <= end {
				result.Samples = append(result.Samples, s)
			}
		}
	}

	result.Stats = TraceStats{
		Spans:   countSpans(result.Spans),
		Samples: len(result.Samples),
	}
	for _, t := range result.Transcripts {
		result.Stats.Breadcrumbs += len(t.Entries)
		for _, e := range t.Entries {
			if e.Kind == ir.EntrySpawn {
				result.Stats.Spawns++
			}
		}
	}
	return result, nil
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	run := result.Run
	fmt.Fprintf(w, "Trace for Run: %s (#%d)\n", run.ID, run.Seq)
	fmt.Fprintf(w, "Plan: %s, horizon %s, ended at %s\n", run.PlanName, run.Horizon, run.EndInstant)
	fmt.Fprintf(w, "Status: %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Spans ===")
	if len(result.Spans) == 0 {
		fmt.Fprintln(w, "  (no spans)")
	}
	depth := make(map[string]int, len(result.Spans))
	for _, s := range result.Spans {
		d := 0
		if p, ok := depth[s.ParentID]; ok && s.ParentID != "" {
			d = p + 1
		}
		depth[s.ActivityID] = d
		indent := strings.Repeat("  ", d+1)
		fmt.Fprintf(w, "%s%s %s [%s, %s] %s", indent, s.ActivityID, s.Type, s.Start, s.End, s.Status)
		if s.Attempts > 1 {
			fmt.Fprintf(w, " (%d attempts)", s.Attempts)
		}
		fmt.Fprintln(w)
		if s.Result != nil && verbose {
			fmt.Fprintf(w, "%s  Result: %s\n", indent, formatValue(s.Result))
		}
		if s.Error != "" {
			fmt.Fprintf(w, "%s  Error: %s\n", indent, s.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Transcripts ===")
	if len(result.Transcripts) == 0 {
		fmt.Fprintln(w, "  (no transcripts)")
	}
	for _, t := range result.Transcripts {
		fmt.Fprintf(w, "  %s", t.ActivityID)
		if verbose {
			fmt.Fprintf(w, " %s", truncateID(t.Digest))
		}
		fmt.Fprintln(w)
		for i, e := range t.Entries {
			fmt.Fprintf(w, "    [%d] %s @ %s", i, e.Kind, e.Instant)
			if e.ChildID != "" {
				fmt.Fprintf(w, " -> %s", e.ChildID)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Samples ===")
	if len(result.Samples) == 0 {
		fmt.Fprintln(w, "  (no samples)")
	}
	for _, s := range result.Samples {
		fmt.Fprintf(w, "  %s %s = %s\n", s.Instant, s.Cell, formatValue(s.Value))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Spans:       %d (%d completed, %d failed, %d incomplete)\n",
		result.Stats.Spans.Total, result.Stats.Spans.Completed, result.Stats.Spans.Failed, result.Stats.Spans.Incomplete)
	fmt.Fprintf(w, "  Breadcrumbs: %d (%d spawns)\n", result.Stats.Breadcrumbs, result.Stats.Spawns)
	fmt.Fprintf(w, "  Samples:     %d\n", result.Stats.Samples)
}

// formatValue renders a value for display. Strings are printed bare; other
// values as JSON with sorted keys.
func formatValue(v ir.Value) string {
	if s, ok := v.(ir.String); ok {
		return string(s)
	}
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
