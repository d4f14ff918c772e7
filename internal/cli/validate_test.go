package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/plan.yaml")
	require.NoError(t, err)
	assert.Equal(t, "✓ 1 plan(s) valid\n", out)
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/plan.yaml", "../plan/testdata/quarterly.cue")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Plans)
}

func TestValidate_Invalid(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/invalid_plan.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "testdata/invalid_plan.yaml")
	assert.Contains(t, out, "E002: IncentivePlan.Name")
	assert.Contains(t, out, "E002: IncentivePlan.Currency")
}

func TestValidate_InvalidJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/invalid_plan.yaml")
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Len(t, resp.Data.Errors, 2)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidPlan, resp.Error.Code)
}

func TestValidate_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("id: [unclosed"), 0o644))

	issues := validatePlanFile(bad)
	require.Len(t, issues, 1)
	assert.Equal(t, ErrCodeGeneric, issues[0].Code)

	issues = validatePlanFile(filepath.Join(dir, "missing.yaml"))
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "read plan file")

	issues = validatePlanFile(filepath.Join(dir, "plan.txt"))
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "unsupported plan file extension")
}

func TestValidate_MissingArgs(t *testing.T) {
	_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}
