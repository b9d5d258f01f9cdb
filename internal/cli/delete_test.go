package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/merlin/internal/store"
)

func TestDeleteRemovesRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	keep := simulateInto(t, db)
	gone := simulateInto(t, db)

	out, err := execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", db, "--run", gone.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deleted run "+gone.RunID)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, keep.RunID, runs[0].ID)

	spans, err := st.ReadSpans(context.Background(), gone.RunID)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestDeleteJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	sim := simulateInto(t, db)

	out, err := execute(NewDeleteCommand(&RootOptions{Format: "json"}), "--db", db, "--run", sim.RunID)
	require.NoError(t, err)

	var result DeleteResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, sim.RunID, resp.TraceID)
	assert.True(t, result.Deleted)
}

func TestDeleteUnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "merlin.db")
	simulateInto(t, db)

	out, err := execute(NewDeleteCommand(&RootOptions{Format: "json"}), "--db", db, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestDeleteRequiresRun(t *testing.T) {
	_, err := execute(NewDeleteCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "merlin.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "run" not set`)
}
