package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
)

func sampleResult(id string, at time.Time) commission.Result {
	p := commission.NewParticipantResult("alice")
	p.QualifyingAmount = decimal.NewFromInt(75000)
	p.Commission = decimal.NewFromInt(1500)
	p.Logs = []execlog.Entry{{ID: "01H", Category: execlog.CategoryAggregation, Level: execlog.LevelInfo, Message: "ok"}}
	return commission.Result{
		ExecutionID:        id,
		PlanID:             "p1",
		PlanName:           "Plan p1",
		Currency:           "USD",
		Mode:               commission.Production,
		Status:             commission.StatusCompleted,
		Timestamp:          at,
		TotalCommission:    decimal.NewFromInt(1500),
		ParticipantResults: []commission.ParticipantResult{*p},
		LogSummary:         execlog.Summary{Total: 1, Info: 1},
		Digest:             "d1",
	}
}

func TestSaveExecutionResult_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExecutionResult(ctx, sampleResult("exec-1", fixedNow)))

	got, err := s.ExecutionResult(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlanID)
	assert.True(t, got.TotalCommission.Equal(decimal.NewFromInt(1500)))
	require.Len(t, got.ParticipantResults, 1)
	assert.Equal(t, "alice", got.ParticipantResults[0].ParticipantID)
	assert.Len(t, got.ParticipantResults[0].Logs, 1)
	assert.Equal(t, "d1", got.Digest)
	assert.True(t, got.Timestamp.Equal(fixedNow))
}

func TestSaveExecutionResult_SecondWriteIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := sampleResult("exec-1", fixedNow)
	second := first
	second.TotalCommission = decimal.NewFromInt(9)

	require.NoError(t, s.SaveExecutionResult(ctx, first))
	require.NoError(t, s.SaveExecutionResult(ctx, second))

	got, err := s.ExecutionResult(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, got.TotalCommission.Equal(decimal.NewFromInt(1500)))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM execution_results").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestExecutionResult_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ExecutionResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestExecutionResultsForPlan_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExecutionResult(ctx, sampleResult("exec-b", fixedNow.Add(time.Hour))))
	require.NoError(t, s.SaveExecutionResult(ctx, sampleResult("exec-a", fixedNow.Add(time.Hour))))
	require.NoError(t, s.SaveExecutionResult(ctx, sampleResult("exec-c", fixedNow)))

	results, err := s.ExecutionResultsForPlan(ctx, "p1")
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ExecutionID
	}
	assert.Equal(t, []string{"exec-c", "exec-a", "exec-b"}, ids)

	none, err := s.ExecutionResultsForPlan(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
