package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
)

func TestValidateValidPlan(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", singleImagePlan)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), plan)
	require.NoError(t, err)
	assert.Contains(t, out, `✓ Plan "single_image" is valid (1 directive(s), horizon 5m0s)`)
}

func TestValidateValidPlanJSON(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", singleImagePlan)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), plan)
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Activities)
	assert.Equal(t, 5*ir.Minute, result.Horizon)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", unknownTypePlan)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), plan)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidPlan, resp.Error.Code)
	assert.False(t, result.Valid)

	codes := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{missionmodel.ErrUnknownActivityType, missionmodel.ErrDuplicateActivity}, codes)
}

func TestValidateInvalidPlanText(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", unknownTypePlan)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plan "broken" is invalid`)
	assert.Contains(t, out, `✗ Plan "broken" has 2 error(s):`)
	assert.Contains(t, out, "Teleport")
}

func TestValidateBadConfig(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", `
plan: {
	name: "bad_config"
	config: {initial_charge: 5000, warp_factor: 9}
	activities: [{id: "img", type: "TakeImage"}]
}
`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), plan)
	require.Error(t, err)

	var result ValidationResult
	decodeResponse(t, out, &result)
	require.NotEmpty(t, result.Errors)
	for _, e := range result.Errors {
		assert.Equal(t, missionmodel.ErrInvalidConfig, e.Code)
	}
}

func TestValidateCUEError(t *testing.T) {
	plan := writeFile(t, t.TempDir(), "plan.cue", `plan: {name: "x", horizon: 1.5}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), plan)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
}

func TestValidateNonExistentPlan(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/plan.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "plan not found")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
