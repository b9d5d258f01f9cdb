package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const singleImagePlan = `
plan: {
	name:    "single_image"
	horizon: "5m"
	activities: [
		{id: "img", type: "TakeImage"},
	]
}
`

const unknownTypePlan = `
plan: {
	name: "broken"
	activities: [
		{id: "x", type: "Teleport"},
		{id: "x", type: "TakeImage"},
	]
}
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse decodes a JSON envelope whose data is decoded into data.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse
}

// simulateInto runs the single-image plan into db and returns its result.
func simulateInto(t *testing.T, db string) SimulateResult {
	t.Helper()
	plan := writeFile(t, t.TempDir(), "plan.cue", singleImagePlan)
	out, err := execute(NewSimulateCommand(&RootOptions{Format: "json"}), plan, "--db", db)
	require.NoError(t, err)

	var result SimulateResult
	resp := decodeResponse(t, out, &result)
	require.Equal(t, "ok", resp.Status)
	return result
}
