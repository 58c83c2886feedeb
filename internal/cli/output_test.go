package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datapipe/internal/rel"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(rel.NewUsageError("bad call")))
	assert.Equal(t, ExitCommandError, GetExitCode(rel.NewSchemaError("cycle")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "declined")))
	assert.Equal(t, ExitCommandError,
		GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "no db"))))

	// an explicit exit code beats the error's own classification
	assert.Equal(t, ExitFailure,
		GetExitCode(WrapExitError(ExitFailure, "skipped", rel.NewUsageError("bad"))))
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "no db", NewExitError(ExitCommandError, "no db").Error())
	wrapped := WrapExitError(ExitFailure, "delete", errors.New("declined"))
	assert.Equal(t, "delete: declined", wrapped.Error())
	assert.Equal(t, "declined", errors.Unwrap(wrapped).Error())
}

func TestFormatterSuccessJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Success("ignored", map[string]any{"made": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, data["made"])
}

func TestFormatterSuccessText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Success("3 made", map[string]any{"made": 3}))
	assert.Equal(t, "3 made\n", buf.String())
}

func TestFormatterErrorCarriesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	cause := rel.NewIntegrityError("recording",
		"use SkipDuplicates to ignore duplicate rows",
		errors.New("UNIQUE constraint failed"))
	require.NoError(t, f.Error(cause))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "recording", resp.Error.Table)
	assert.Contains(t, resp.Error.Hint, "SkipDuplicates")
	assert.NotEqual(t, "ERROR", resp.Error.Code)
}

func TestFormatterErrorText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Error(errors.New("boom")))
	assert.Contains(t, buf.String(), "Error [ERROR]: boom")
}
