package missionmodel_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/missionmodel"
	"github.com/roach88/merlin/internal/simulation"
)

func demoPlan() *ir.Plan {
	return &ir.Plan{
		Name:    "demo",
		Horizon: ir.Hour,
		Activities: []ir.ActivityDirective{
			{ID: "img", Type: missionmodel.ActTakeImage},
			{ID: "dl", Type: missionmodel.ActDownlink, StartOffset: 2 * ir.Minute},
			{ID: "obs", Type: missionmodel.ActObserve, Args: ir.ValueMap{"min_charge": ir.Int(760)}},
			{ID: "chg", Type: missionmodel.ActChargeBattery, StartOffset: 5 * ir.Minute, Args: ir.ValueMap{"duration": ir.String("10m")}},
		},
	}
}

func simulate(t *testing.T, plan *ir.Plan, opts ...simulation.Option) (*missionmodel.Model[missionmodel.Spacecraft], *simulation.Results[missionmodel.Spacecraft]) {
	t.Helper()
	m, err := missionmodel.NewSpacecraft(plan.Config)
	require.NoError(t, err)
	require.Empty(t, m.ValidatePlan(plan))

	opts = append([]simulation.Option{
		simulation.WithSampler(m.Sample),
		simulation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	res, err := simulation.New(m.Schema(), m, opts...).Simulate(context.Background(), plan)
	require.NoError(t, err)
	return m, res
}

func TestSpacecraft_DemoPlan(t *testing.T) {
	m, res := simulate(t, demoPlan())

	assert.Equal(t, ir.ValueMap{
		missionmodel.CellBattery: ir.Int(870),
		missionmodel.CellData:    ir.Int(0),
		missionmodel.CellMode:    ir.String(missionmodel.ModeIdle),
	}, res.Final)
	assert.Equal(t, ir.Hour, res.EndInstant)

	childID := ir.DerivedActivityID("img", 0)
	img, ok := res.Span("img")
	require.True(t, ok)
	assert.Equal(t, ir.SpanCompleted, img.Status)
	assert.Equal(t, 90*ir.Second, img.End)
	assert.Equal(t, ir.ValueMap{"compressed_by": ir.String(childID)}, img.Result)

	child, ok := res.Span(childID)
	require.True(t, ok)
	assert.Equal(t, missionmodel.ActCompressImage, child.Type)
	assert.Equal(t, "img", child.ParentID)
	assert.Equal(t, ir.ValueMap{"saved": ir.Int(90)}, child.Result)

	dl, _ := res.Span("dl")
	assert.Equal(t, ir.ValueMap{"sent": ir.Int(30)}, dl.Result)
	assert.Equal(t, 3*ir.Minute, dl.End)

	obs, _ := res.Span("obs")
	assert.Equal(t, ir.ValueMap{"started": ir.Int(int64(6 * ir.Minute))}, obs.Result)
	assert.Equal(t, 11*ir.Minute, obs.End)

	chg, _ := res.Span("chg")
	assert.Equal(t, ir.ValueMap{"added": ir.Int(200)}, chg.Result)
	assert.Equal(t, 15*ir.Minute, chg.End)

	hk, ok := res.Span(simulation.DaemonPrefix + missionmodel.ActHousekeepingDaemon)
	require.True(t, ok)
	assert.Equal(t, ir.SpanIncomplete, hk.Status)

	v, ok := m.Resource(res.Time, missionmodel.CellBattery)
	require.True(t, ok)
	assert.Equal(t, ir.Int(870), v)
}

func TestSpacecraft_Deterministic(t *testing.T) {
	_, first := simulate(t, demoPlan(), simulation.WithWorkers(1))
	_, second := simulate(t, demoPlan(), simulation.WithWorkers(4))

	assert.Equal(t, first.Spans, second.Spans)
	assert.Equal(t, first.Transcripts, second.Transcripts)
	assert.Equal(t, first.Samples, second.Samples)
}

func TestSpacecraft_ConcurrentModeWritesConflict(t *testing.T) {
	plan := &ir.Plan{
		Horizon: 30 * ir.Second,
		Activities: []ir.ActivityDirective{
			{ID: "img", Type: missionmodel.ActTakeImage},
			{ID: "dl", Type: missionmodel.ActDownlink},
		},
	}
	_, res := simulate(t, plan)

	samples := res.SamplesOf(missionmodel.CellMode)
	require.NotEmpty(t, samples)
	assert.Equal(t, ir.ValueMap{"conflict": ir.Bool(true)}, samples[0].Value)
}

func TestSpacecraft_Config(t *testing.T) {
	cfg, err := missionmodel.ParseSpacecraftConfig(ir.ValueMap{
		"battery_capacity":      ir.Int(2000),
		"housekeeping_interval": ir.String("1m"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cfg.BatteryCapacity)
	assert.Equal(t, ir.Minute, cfg.HousekeepingInterval)
	assert.Equal(t, missionmodel.DefaultSpacecraftConfig().ImageSize, cfg.ImageSize)

	_, err = missionmodel.NewSpacecraft(ir.ValueMap{
		"battery_capacity": ir.Int(10),
		"image_size":       ir.String("big"),
		"warp_drive":       ir.Bool(true),
	})
	require.Error(t, err)
	assert.True(t, missionmodel.IsConfigError(err))

	var ce *missionmodel.ConfigError
	require.ErrorAs(t, err, &ce)
	fields := make([]string, len(ce.Errors))
	for i, e := range ce.Errors {
		fields[i] = e.Field
	}
	assert.ElementsMatch(t, []string{"config.image_size", "config.warp_drive", "config.initial_charge"}, fields)
}
