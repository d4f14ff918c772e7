package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/plan"
)

func TestPlanImportAndShow(t *testing.T) {
	root := testRootOptions(t, "text")

	out, err := execute(t, NewPlanCommand(root), "import", "testdata/plan.yaml")
	require.NoError(t, err)
	assert.Equal(t, "✓ Saved plan plan-cli (CLI Field Sales) to sqlite store\n", out)

	out, err = execute(t, NewPlanCommand(root), "show", "plan-cli")
	require.NoError(t, err)

	var p plan.IncentivePlan
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "plan-cli", p.ID)
	assert.Equal(t, plan.StatusDraft, p.Status)
	require.Len(t, p.Tiers, 2)
	assert.Equal(t, "50001", p.Tiers[1].From.String())
}

func TestPlanImport_JSON(t *testing.T) {
	out, err := execute(t, NewPlanCommand(testRootOptions(t, "json")), "import", "testdata/plan.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"id": "plan-cli", "store": "sqlite"}, resp.Data)
}

func TestPlanImport_Invalid(t *testing.T) {
	_, err := execute(t, NewPlanCommand(testRootOptions(t, "text")), "import", "testdata/invalid_plan.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid plan")
}

func TestPlanShow_NotFound(t *testing.T) {
	out, err := execute(t, NewPlanCommand(testRootOptions(t, "text")), "show", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "plan missing not found")
}

func TestResult_NotFound(t *testing.T) {
	out, err := execute(t, NewResultCommand(testRootOptions(t, "text")), "exec-0042")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no saved result for execution exec-0042")
}

func TestResult_SimulateIsNotSaved(t *testing.T) {
	root := testRootOptions(t, "text")
	_, err := runWith(t, newRunOptions(root))
	require.NoError(t, err)

	_, err = execute(t, NewResultCommand(root), "exec-0001")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
