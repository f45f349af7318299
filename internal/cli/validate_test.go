package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidateCmd(format string, args ...string) (*bytes.Buffer, func() error) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute
}

func TestValidate_ValidFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "echo", echoScenario)
	writeScenario(t, dir, "short-run", shortRunScenario)

	buf, run := newValidateCmd("text", dir)
	require.NoError(t, run())
	assert.Contains(t, buf.String(), "✓ 2 scenario file(s) valid")
}

func TestValidate_SchemaViolationListsDetails(t *testing.T) {
	dir := t.TempDir()
	good := writeScenario(t, dir, "echo", echoScenario)
	bad := writeScenario(t, dir, "bad", "name: bad\ndescription: \"d\"\nsteps:\n  - wait: { event: nope }\n")

	buf, run := newValidateCmd("json", good, bad)
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Files)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, bad, resp.Data.Errors[0].File)
	assert.Equal(t, ErrCodeInvalid, resp.Data.Errors[0].Code)
	assert.NotEmpty(t, resp.Data.Errors[0].Details)
}

func TestValidate_SemanticErrorText(t *testing.T) {
	bad := writeScenario(t, t.TempDir(), "two", "name: two\ndescription: \"d\"\nsteps:\n  - command: a\n    update: true\n")

	buf, run := newValidateCmd("text", bad)
	err := run()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ Validation failed")
	assert.Contains(t, buf.String(), "exactly one action")
}

func TestValidate_DuplicateScenarioNames(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a", echoScenario)
	writeScenario(t, dir, "b", echoScenario)

	buf, run := newValidateCmd("text", dir)
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), `duplicate scenario name: "echo" is also used by`)
	assert.Contains(t, buf.String(), "a.yaml")
}

func TestValidate_MissingPath(t *testing.T) {
	buf, run := newValidateCmd("text", filepath.Join(t.TempDir(), "nope.yaml"))
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E005]")
}

func TestValidate_EmptyDirectory(t *testing.T) {
	_, run := newValidateCmd("text", t.TempDir())
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
