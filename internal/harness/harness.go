package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/merlin/internal/compiler"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
	"github.com/roach88/merlin/internal/simulation"
	"github.com/roach88/merlin/internal/store"
	"github.com/roach88/merlin/internal/testutil"
)

// Harness is the scenario execution engine. It runs scenarios with
// deterministic child ids and run ids.
type Harness struct {
	store  *store.Store
	runs   *testutil.RunSequence
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the plan and apply the scenario's overrides
// 2. Build the mission model and validate the plan against it
// 3. Simulate
// 4. Store the results and read them back
// 5. Evaluate assertions against the stored results
//
// An invalid plan or scenario is returned as an error. A simulation that
// fails partway is reported as a failing Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		runs:   testutil.NewRunSequence(scenario.Name),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	return h.run(context.Background(), scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	plan, err := loadPlan(scenario)
	if err != nil {
		return nil, err
	}

	model, err := missionmodel.NewSpacecraft(plan.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to build mission model: %w", err)
	}
	if errs := model.ValidatePlan(plan); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid plan: %s", strings.Join(msgs, "; "))
	}

	opts := []simulation.Option{
		simulation.WithIDGenerator(testutil.PathGenerator{}),
		simulation.WithSampler(model.Sample),
		simulation.WithLogger(h.logger),
	}
	if scenario.Workers > 0 {
		opts = append(opts, simulation.WithWorkers(scenario.Workers))
	}
	res, simErr := simulation.New(model.Schema(), model, opts...).Simulate(ctx, plan)
	if res == nil {
		return nil, fmt.Errorf("simulation did not start: %w", simErr)
	}

	result := NewResult()
	if simErr != nil {
		result.RunError = simErr.Error()
		result.AddError(fmt.Sprintf("simulation failed: %v", simErr))
	}

	if err := h.record(ctx, plan, res, simErr, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"run_id", result.RunID,
		"pass", result.Pass,
		"errors", len(result.Errors),
	)
	return result, nil
}

// record writes the run to the store and fills result from what the store
// returns, so assertions see exactly what a later replay or trace would.
func (h *Harness) record(ctx context.Context, plan *ir.Plan, res *simulation.Results[missionmodel.Spacecraft], simErr error, result *Result) error {
	digest, err := ir.PlanDigest(plan)
	if err != nil {
		return fmt.Errorf("failed to digest plan: %w", err)
	}
	id, seq := h.runs.Next()
	run := ir.RunRecord{
		ID:         id,
		PlanName:   plan.Name,
		PlanDigest: digest,
		Horizon:    plan.Horizon,
		EndInstant: res.EndInstant,
		Status:     ir.RunCompleted,
		Seq:        seq,
	}
	if simErr != nil {
		run.Status = ir.RunFailed
		run.Error = simErr.Error()
	}
	if _, err := h.store.WriteResultsAtomic(ctx, store.RunData{
		Run:         run,
		Plan:        plan,
		Spans:       res.Spans,
		Transcripts: res.Transcripts,
		Samples:     res.Samples,
	}); err != nil {
		return fmt.Errorf("failed to store results: %w", err)
	}

	result.RunID = id
	result.EndInstant = res.EndInstant
	result.Final = res.Final
	if result.Spans, err = h.store.ReadSpans(ctx, id); err != nil {
		return fmt.Errorf("failed to read spans: %w", err)
	}
	if result.Transcript, err = h.store.ReadTranscripts(ctx, id); err != nil {
		return fmt.Errorf("failed to read transcripts: %w", err)
	}
	if result.Samples, err = h.store.ReadSamples(ctx, id, ""); err != nil {
		return fmt.Errorf("failed to read samples: %w", err)
	}
	return nil
}

// loadPlan compiles the scenario's plan file and applies its overrides.
func loadPlan(scenario *Scenario) (*ir.Plan, error) {
	plan, err := compiler.LoadPlanFile(scenario.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if scenario.Horizon != "" {
		if plan.Horizon, err = ir.ParseDuration(scenario.Horizon); err != nil {
			return nil, fmt.Errorf("horizon: %w", err)
		}
	}
	if len(scenario.Config) > 0 {
		overrides, err := ir.MapFromAny(scenario.Config)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg := plan.Config.Clone()
		for k, v := range overrides {
			cfg[k] = v
		}
		plan.Config = cfg
	}
	return plan, nil
}
