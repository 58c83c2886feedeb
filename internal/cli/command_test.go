package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/conn"
	"github.com/roach88/datapipe/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func countIn(t *testing.T, path, table string) int {
	t.Helper()
	c, err := conn.Open(path)
	require.NoError(t, err)
	defer c.Close()
	return testutil.CountRows(t, c, table)
}

func TestTablesCommandJSON(t *testing.T) {
	path := testutil.CreateDB(t)

	out, err := runCLI(t, "--db", path, "--format", "json", "tables")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []TableInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	byName := map[string]TableInfo{}
	for _, info := range resp.Data {
		byName[info.Name] = info
	}
	assert.Equal(t, "manual", byName["recording"].Tier)
	assert.ElementsMatch(t, []string{"session", "#stim_type"}, byName["recording"].Parents)
	assert.Equal(t, "lookup", byName["#stim_type"].Tier)
	assert.Equal(t, "computed", byName["__filtered_trace"].Tier)
	assert.Equal(t, "part", byName["recording__channel"].Tier)
	assert.Equal(t, "settings", byName["##filtered_trace_settings"].Tier)
	assert.ElementsMatch(t, []string{"session"}, byName["comparison"].Parents)
}

func TestTablesCommandText(t *testing.T) {
	path := testutil.CreateDB(t)

	out, err := runCLI(t, "--db", path, "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "TABLE")
	assert.Contains(t, out, "recording")
}

func TestDeleteCommandDryRun(t *testing.T) {
	path := testutil.CreateDB(t)

	out, err := runCLI(t, "--db", path, "--format", "json",
		"delete", "session", "--where", "subject_id=1", "--where", "session_id=1", "--dry-run")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []deletePlanStep `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 6)
	// execution order: the target falls last
	assert.Equal(t, "session", resp.Data[len(resp.Data)-1].Table)

	// a dry run never touches the rows
	assert.Equal(t, 3, countIn(t, path, "session"))
}

func TestDeleteCommandCascades(t *testing.T) {
	path := testutil.CreateDB(t)

	out, err := runCLI(t, "--db", path, "--format", "json",
		"delete", "session", "--where", "subject_id=1", "--where", "session_id=1", "--yes")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   deleteReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "committed", resp.Data.Status)
	assert.Equal(t, int64(8), resp.Data.Total)

	assert.Equal(t, 2, countIn(t, path, "session"))
	assert.Equal(t, 2, countIn(t, path, "recording"))
	assert.Equal(t, 1, countIn(t, path, "comparison"))
}

func TestDeleteCommandInvalidRestriction(t *testing.T) {
	path := testutil.CreateDB(t)

	_, err := runCLI(t, "--db", path, "delete", "session", "--where", "nonsense", "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUnknownTableIsCommandError(t *testing.T) {
	path := testutil.CreateDB(t)

	_, err := runCLI(t, "--db", path, "delete", "phantom", "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingDatabaseIsCommandError(t *testing.T) {
	_, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "absent.db"), "tables")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := runCLI(t, "--format", "xml", "tables")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSettingsPushListPopulate(t *testing.T) {
	path := testutil.CreateDB(t)
	DefaultRegistry().Register("peak", func(args []any, kwargs map[string]any) (any, error) {
		rate, _ := kwargs["rate"].(float64)
		threshold, _ := kwargs["threshold"].(float64)
		return map[string]any{"peak": rate / threshold}, nil
	})

	doc := `table: __filtered_trace
settings:
  name: default
  func: peak
  fetch_method: fetch1
  global_settings:
    threshold: 10000.0
  entry_settings:
    rate: {column: sample_rate}
`
	docPath := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))

	out, err := runCLI(t, "--db", path, "settings", "push", docPath)
	require.NoError(t, err)
	assert.Contains(t, out, "__filtered_trace/default")

	out, err = runCLI(t, "--db", path, "settings", "list", "__filtered_trace")
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "func=peak")

	out, err = runCLI(t, "--db", path, "--format", "json",
		"populate", "__filtered_trace", "--settings", "default")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   populateReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 4, resp.Data.Pending)
	assert.Equal(t, 4, resp.Data.Made)
	assert.Equal(t, 4, countIn(t, path, "__filtered_trace"))

	// idempotent: a second run has nothing pending
	out, err = runCLI(t, "--db", path, "--format", "json",
		"populate", "__filtered_trace", "--settings", "default")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Zero(t, resp.Data.Pending)
}

func TestSettingsPushRejectsInvalidDocument(t *testing.T) {
	path := testutil.CreateDB(t)

	doc := "table: __filtered_trace\nsettings:\n  name: default\n  func: peak\n  fetch_method: grab\n"
	docPath := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))

	_, err := runCLI(t, "--db", path, "settings", "push", docPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed validation")

	// nothing was written
	assert.Equal(t, 0, countIn(t, path, "##filtered_trace_settings"))
}

func TestPopulateRequiresSettingsFlag(t *testing.T) {
	path := testutil.CreateDB(t)

	_, err := runCLI(t, "--db", path, "populate", "__filtered_trace")
	require.Error(t, err)
}
