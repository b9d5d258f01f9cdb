package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/merlin/internal/ir"
)

func TestTraceLatestRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	simulateInto(t, db)
	latest := simulateInto(t, db)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "--db", db)
	require.NoError(t, err)

	var result TraceResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, latest.RunID, resp.TraceID)
	assert.Equal(t, latest.RunID, result.Run.ID)
	assert.Len(t, result.Spans, 3)
	assert.Len(t, result.Transcripts, 3)
	assert.Len(t, result.Samples, 6)
	assert.Equal(t, SpanStats{Total: 3, Completed: 2, Incomplete: 1}, result.Stats.Spans)
	assert.Equal(t, 1, result.Stats.Spawns)
}

func TestTraceActivityFilter(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	sim := simulateInto(t, db)
	child := ir.DerivedActivityID("img", 0)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "--db", db, "--run", sim.RunID, "--activity", "img")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Spans, 2)
	assert.Equal(t, "img", result.Spans[0].ActivityID)
	assert.Equal(t, child, result.Spans[1].ActivityID)
	assert.Equal(t, "img", result.Spans[1].ParentID)

	require.Len(t, result.Transcripts, 2)
	assert.Equal(t, []string{ir.EntryAdvance, ir.EntryAdvance, ir.EntrySpawn, ir.EntryAdvance}, kinds(result.Transcripts[0]))

	for _, s := range result.Samples {
		assert.GreaterOrEqual(t, s.Instant, result.Spans[0].Start)
		assert.LessOrEqual(t, s.Instant, result.Spans[0].End)
	}
}

func TestTraceCellFilter(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	simulateInto(t, db)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "--db", db, "--cell", "data_volume")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Samples, 3)
	for _, s := range result.Samples {
		assert.Equal(t, "data_volume", s.Cell)
	}
}

func TestTraceText(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	sim := simulateInto(t, db)
	child := ir.DerivedActivityID("img", 0)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--db", db)
	require.NoError(t, err)

	assert.Contains(t, out, "Trace for Run: "+sim.RunID+" (#1)")
	assert.Contains(t, out, "Status: completed")
	assert.Contains(t, out, "=== Spans ===")
	assert.Contains(t, out, "  img TakeImage [0s, 1m30s] completed")
	assert.Contains(t, out, "    "+child+" CompressImage")
	assert.Contains(t, out, "=== Transcripts ===")
	assert.Contains(t, out, "[2] spawn @ 1m0s -> "+child)
	assert.Contains(t, out, "=== Samples ===")
	assert.Contains(t, out, "1m30s instrument_mode = idle")
	assert.Contains(t, out, "Breadcrumbs:")
}

func TestTraceEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")

	_, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no runs in database")
}

func TestTraceUnknownActivity(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	simulateInto(t, db)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "--db", db, "--activity", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "idle", formatValue(ir.String("idle")))
	assert.Equal(t, "42", formatValue(ir.Int(42)))
	assert.Equal(t, "null", formatValue(ir.Null{}))
	assert.Equal(t, `{"a":1,"b":[true,"x"]}`, formatValue(ir.ValueMap{
		"b": ir.List{ir.Bool(true), ir.String("x")},
		"a": ir.Int(1),
	}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "0123456789abcdef", truncateID("0123456789abcdef"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789abcdef0123456789abcdef"))
}

func kinds(t ir.TranscriptRecord) []string {
	out := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Kind
	}
	return out
}
