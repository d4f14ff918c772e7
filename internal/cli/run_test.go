package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/testutil"
)

func newRunOptions(root *RootOptions) *RunOptions {
	return &RunOptions{
		RootOptions: root,
		PlanFile:    "testdata/plan.yaml",
		Records:     "testdata/records.yaml",
		Mode:        string(commission.Simulate),
		From:        "2024-01-01",
		To:          "2024-03-31",
		IDGenerator: testutil.NewSequenceGenerator(""),
	}
}

func runWith(t *testing.T, opts *RunOptions) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	err := runExecution(opts, cmd)
	return buf.String(), err
}

func TestRun_Simulate(t *testing.T) {
	out, err := runWith(t, newRunOptions(testRootOptions(t, "text")))
	require.NoError(t, err)

	assert.Contains(t, out, "✓ exec-0001 COMPLETED (plan-cli, Simulate)")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "1500")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "Total: 1700 USD")
}

func TestRun_SimulateJSON(t *testing.T) {
	out, err := runWith(t, newRunOptions(testRootOptions(t, "json")))
	require.NoError(t, err)

	var resp struct {
		Status      string            `json:"status"`
		ExecutionID string            `json:"execution_id"`
		Data        commission.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "exec-0001", resp.ExecutionID)
	assert.Equal(t, commission.StatusCompleted, resp.Data.Status)
	assert.Equal(t, "1700", resp.Data.TotalCommission.String())
	require.Len(t, resp.Data.ParticipantResults, 2)
}

func TestRun_ParticipantFilter(t *testing.T) {
	opts := newRunOptions(testRootOptions(t, "text"))
	opts.Participants = []string{"bob"}

	out, err := runWith(t, opts)
	require.NoError(t, err)
	assert.NotContains(t, out, "alice")
	assert.Contains(t, out, "Total: 200 USD")
}

func TestRun_ProductionPersists(t *testing.T) {
	root := testRootOptions(t, "text")
	opts := newRunOptions(root)
	opts.Mode = string(commission.Production)

	_, err := runWith(t, opts)
	require.NoError(t, err)

	out, err := execute(t, NewResultCommand(root), "exec-0001")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ exec-0001 COMPLETED (plan-cli, Production)")

	root.Format = "json"
	out, err = execute(t, NewPlanCommand(root), "show", "plan-cli")
	require.NoError(t, err)
	var resp struct {
		Data plan.IncentivePlan `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, plan.StatusExecuted, resp.Data.Status)
	assert.NotNil(t, resp.Data.LastExecutedAt)
}

func TestRun_ByPlanID(t *testing.T) {
	root := testRootOptions(t, "text")
	_, err := execute(t, NewPlanCommand(root), "import", "testdata/plan.yaml")
	require.NoError(t, err)

	opts := newRunOptions(root)
	opts.PlanFile = ""
	opts.PlanID = "plan-cli"

	out, err := runWith(t, opts)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 1700 USD")
}

func TestRun_FailedExecution(t *testing.T) {
	opts := newRunOptions(testRootOptions(t, "text"))
	opts.PlanFile = ""
	opts.PlanID = "missing"

	out, err := runWith(t, opts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ exec-0001 FAILED")
	assert.Contains(t, out, "PLAN_NOT_FOUND")
}

func TestRun_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		edit func(*RunOptions)
		want string
	}{
		{"bad from", func(o *RunOptions) { o.From = "yesterday" }, "invalid --from date"},
		{"bad to", func(o *RunOptions) { o.To = "31/03/2024" }, "invalid --to date"},
		{"bad date", func(o *RunOptions) { o.ExecutionDate = "soon" }, "invalid --date"},
		{"period reversed", func(o *RunOptions) { o.From, o.To = o.To, o.From }, "invalid execution parameters"},
		{"bad mode", func(o *RunOptions) { o.Mode = "Dry" }, "invalid execution parameters"},
		{"missing plan", func(o *RunOptions) { o.PlanFile = "testdata/nope.yaml" }, "invalid plan file"},
		{"invalid plan", func(o *RunOptions) { o.PlanFile = "testdata/invalid_plan.yaml" }, "invalid plan file"},
		{"missing records", func(o *RunOptions) { o.Records = "testdata/nope.yaml" }, "failed to load records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newRunOptions(testRootOptions(t, "text"))
			tt.edit(opts)

			_, err := runWith(t, opts)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_MetricsFile(t *testing.T) {
	opts := newRunOptions(testRootOptions(t, "text"))
	opts.MetricsFile = filepath.Join(t.TempDir(), "icm.prom")

	_, err := runWith(t, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(opts.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `icm_executions_total{mode="Simulate",status="COMPLETED"} 1`)
}

func TestRunCommand_FlagRules(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no plan", []string{"--from", "2024-01-01", "--to", "2024-03-31"}, "at least one of the flags"},
		{"both plans", []string{"--plan", "a.yaml", "--plan-id", "a", "--from", "2024-01-01", "--to", "2024-03-31"}, "none of the others can be"},
		{"no period", []string{"--plan", "a.yaml"}, "required flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewRunCommand(testRootOptions(t, "text")), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
