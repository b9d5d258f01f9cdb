package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/merlin/internal/config"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
	"github.com/roach88/merlin/internal/simulation"
	"github.com/roach88/merlin/internal/telemetry"
)

// KernelOptions are the simulation flags shared by simulate and replay.
// Unset flags fall back to the MERLIN_* environment.
type KernelOptions struct {
	Database    string
	Workers     int
	MaxAttempts int
}

func (k *KernelOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.Database, "db", "", "path to SQLite database (default $MERLIN_DB)")
	cmd.Flags().IntVar(&k.Workers, "workers", 0, "parallel task executions per wave (default $MERLIN_WORKERS)")
	cmd.Flags().IntVar(&k.MaxAttempts, "max-attempts", 0, "executions allowed per task (default $MERLIN_MAX_ATTEMPTS)")
}

// resolve fills unset flags from cfg.
func (k *KernelOptions) resolve(cmd *cobra.Command, cfg config.Config) {
	if !cmd.Flags().Changed("db") {
		k.Database = cfg.DB
	}
	if !cmd.Flags().Changed("workers") {
		k.Workers = cfg.Workers
	}
	if !cmd.Flags().Changed("max-attempts") {
		k.MaxAttempts = cfg.MaxAttempts
	}
}

// session is the per-invocation state of a simulating command.
type session struct {
	cfg      config.Config
	out      *OutputFormatter
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

// openSession loads the environment, installs tracing when enabled and
// creates a private metrics registry.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := opts.formatter(cmd)
	cfg, err := config.Load()
	if err != nil {
		return nil, fail(out, ExitCommandError, ErrCodeGeneric, "invalid environment configuration", err)
	}
	level, _ := cfg.Level()

	exporter := "none"
	if cfg.OTelEnabled {
		exporter = "stdout"
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{TraceExporter: exporter, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return nil, fail(out, ExitCommandError, ErrCodeGeneric, "failed to initialise tracing", err)
	}

	reg := prometheus.NewRegistry()
	return &session{
		cfg:      cfg,
		out:      out,
		logger:   out.Logger(level),
		registry: reg,
		metrics:  telemetry.NewMetrics(reg),
		shutdown: shutdown,
	}, nil
}

func (s *session) close() {
	if err := s.shutdown(context.Background()); err != nil {
		s.logger.Warn("tracing shutdown failed", "error", err)
	}
}

// newModel constructs the spacecraft model for plan and checks every
// directive against it.
func newModel(plan *ir.Plan) (*missionmodel.Model[missionmodel.Spacecraft], error) {
	model, err := missionmodel.NewSpacecraft(plan.Config)
	if err != nil {
		return nil, err
	}
	if errs := model.ValidatePlan(plan); len(errs) > 0 {
		return nil, fmt.Errorf("invalid plan: %s", joinValidation(errs))
	}
	return model, nil
}

// buildModel is newModel with errors reported as command failures.
func (s *session) buildModel(plan *ir.Plan) (*missionmodel.Model[missionmodel.Spacecraft], error) {
	model, err := newModel(plan)
	if missionmodel.IsConfigError(err) {
		return nil, fail(s.out, ExitFailure, ErrCodeInvalidModel, "invalid mission model configuration", err)
	}
	if err != nil {
		return nil, fail(s.out, ExitFailure, ErrCodeInvalidPlan, "plan rejected", err)
	}
	return model, nil
}

// simulate runs plan on model. Results are returned even when the run
// terminates with an error.
func (s *session) simulate(ctx context.Context, model *missionmodel.Model[missionmodel.Spacecraft], plan *ir.Plan, k KernelOptions) (*simulation.Results[missionmodel.Spacecraft], error) {
	driver := simulation.New(model.Schema(), model,
		simulation.WithSampler(model.Sample),
		simulation.WithLogger(s.logger),
		simulation.WithMetrics(s.metrics),
		simulation.WithWorkers(k.Workers),
		simulation.WithMaxAttempts(k.MaxAttempts),
	)
	return driver.Simulate(ctx, plan)
}

// counters sums every counter in the session registry by metric name.
func (s *session) counters() map[string]float64 {
	families, err := s.registry.Gather()
	if err != nil {
		s.logger.Warn("metrics gather failed", "error", err)
		return nil
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var total float64
		counter := false
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
				counter = true
			}
		}
		if counter {
			out[mf.GetName()] = total
		}
	}
	return out
}

// newRunRecord summarises a finished run for the store.
func newRunRecord(id string, plan *ir.Plan, res *simulation.Results[missionmodel.Spacecraft], simErr error) (ir.RunRecord, error) {
	digest, err := ir.PlanDigest(plan)
	if err != nil {
		return ir.RunRecord{}, fmt.Errorf("failed to digest plan: %w", err)
	}
	run := ir.RunRecord{
		ID:         id,
		PlanName:   plan.Name,
		PlanDigest: digest,
		Horizon:    plan.Horizon,
		EndInstant: res.EndInstant,
		Status:     ir.RunCompleted,
	}
	if simErr != nil {
		run.Status = ir.RunFailed
		run.Error = simErr.Error()
	}
	return run, nil
}

func joinValidation(errs []missionmodel.ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// fail reports err in JSON mode and returns it as an ExitError. In text
// mode Execute prints the returned error.
func fail(out *OutputFormatter, exitCode int, code, message string, err error) error {
	detail := message
	if err != nil {
		detail = fmt.Sprintf("%s: %v", message, err)
	}
	if out.Format == "json" {
		_ = out.Error(code, detail, nil)
	}
	return WrapExitError(exitCode, message, err)
}

// failLoad maps a plan loading error to its exit code. Missing inputs are
// command errors; plans that do not compile are failures.
func failLoad(out *OutputFormatter, err error) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return fail(out, ExitCommandError, ErrCodeGeneric, "failed to load plan", err)
	}
	exitCode := ExitFailure
	switch loadErr.Code {
	case ErrCodeNotFound, ErrCodeScanError, ErrCodeNoFiles:
		exitCode = ExitCommandError
	}
	return fail(out, exitCode, loadErr.Code, "failed to load plan", err)
}
