package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                           `json:"valid"`
	Plan       string                         `json:"plan,omitempty"`
	Activities int                            `json:"activities"`
	Horizon    ir.Duration                    `json:"horizon"`
	Errors     []missionmodel.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.cue|plan-dir>",
		Short: "Validate a plan without simulating it",
		Long: `Compile a CUE plan and check every directive against the mission model.

Reports unknown activity types, bad arguments, duplicate ids, negative start
offsets and invalid model configuration. All problems are reported, not just
the first.

Exit codes:
  0 - Plan is valid
  1 - Plan is invalid
  2 - Command error (plan not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	plan, err := LoadPlan(path)
	if err != nil {
		return failLoad(out, err)
	}
	out.VerboseLog("Compiled plan %q with %d directive(s)", plan.Name, len(plan.Activities))

	result := ValidationResult{
		Plan:       plan.Name,
		Activities: len(plan.Activities),
		Horizon:    plan.Horizon,
	}
	result.Errors = validatePlan(plan)
	result.Valid = len(result.Errors) == 0

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeInvalidPlan,
				Message: fmt.Sprintf("%d validation error(s)", len(result.Errors)),
			}
		}
		if err := out.Respond(resp); err != nil {
			return err
		}
	} else {
		outputValidateText(out, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("plan %q is invalid", plan.Name))
	}
	return nil
}

// validatePlan collects configuration and directive errors. A rejected
// configuration stops validation because directives are checked against
// the model it builds.
func validatePlan(plan *ir.Plan) []missionmodel.ValidationError {
	model, err := missionmodel.NewSpacecraft(plan.Config)
	if err != nil {
		var cfgErr *missionmodel.ConfigError
		if errors.As(err, &cfgErr) {
			return cfgErr.Errors
		}
		return []missionmodel.ValidationError{{
			Field:   "config",
			Message: err.Error(),
			Code:    missionmodel.ErrInvalidConfig,
		}}
	}
	return model.ValidatePlan(plan)
}

func outputValidateText(out *OutputFormatter, r ValidationResult) {
	w := out.Writer
	if r.Valid {
		fmt.Fprintf(w, "✓ Plan %q is valid (%d directive(s), horizon %s)\n", r.Plan, r.Activities, r.Horizon)
		return
	}
	fmt.Fprintf(w, "✗ Plan %q has %d error(s):\n", r.Plan, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
