package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/config"
	"github.com/roach88/merlin/internal/store"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// DeleteResult reports the removed run.
type DeleteResult struct {
	RunID   string `json:"run_id"`
	Deleted bool   `json:"deleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a stored run and its results",
		Long: `Remove a stored run together with its spans, transcripts and samples.

Exit codes:
  0 - Run deleted
  2 - Command error (run not found, database error, etc.)

Examples:
  merlin delete --db ./merlin.db --run 0190df5e-6f1c-7c2a-9d55-1b0f4c8e2a11`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $MERLIN_DB)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to delete")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runDelete(ctx context.Context, opts *DeleteOptions, cmd *cobra.Command) error {
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

	existed, err := st.DeleteRun(ctx, opts.RunID)
	if err != nil {
		return fail(out, ExitCommandError, ErrCodeStore, "failed to delete run", err)
	}
	if !existed {
		return fail(out, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", opts.RunID), nil)
	}

	if opts.Format == "json" {
		return out.Respond(CLIResponse{Status: "ok", Data: DeleteResult{RunID: opts.RunID, Deleted: true}, TraceID: opts.RunID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", opts.RunID)
	return nil
}
