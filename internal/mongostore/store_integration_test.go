//go:build integration

package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/plan"
)

// setupMongo starts a disposable MongoDB 7 container and returns a store on
// it. The container is terminated on cleanup.
func setupMongo(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx,
		"mongo:7",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	s, disconnect, err := Connect(ctx, uri, "icm_integration")
	require.NoError(t, err)
	t.Cleanup(func() { _ = disconnect(ctx) })
	return s
}

func TestIntegration_PlanLifecycle(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()

	require.NoError(t, s.SavePlan(ctx, samplePlan()))

	got, err := s.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Q1", got.Name)

	at := time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkPlanExecuted(ctx, "p1", at))

	got, err = s.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusExecuted, got.Status)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, got.LastExecutedAt.Equal(at))

	_, err = s.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, plan.ErrNotFound)
	assert.ErrorIs(t, s.MarkPlanExecuted(ctx, "missing", at), plan.ErrNotFound)
}

func TestIntegration_ExecutionResultWrittenOnce(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()

	res := commission.Result{
		ExecutionID:        "exec-1",
		PlanID:             "p1",
		Mode:               commission.Production,
		Status:             commission.StatusCompleted,
		Timestamp:          time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC),
		TotalCommission:    decimal.NewFromInt(1500),
		ParticipantResults: []commission.ParticipantResult{},
	}
	require.NoError(t, s.SaveExecutionResult(ctx, res))

	dup := res
	dup.TotalCommission = decimal.NewFromInt(1)
	require.NoError(t, s.SaveExecutionResult(ctx, dup))

	got, err := s.ExecutionResult(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, got.TotalCommission.Equal(decimal.NewFromInt(1500)))

	_, err = s.ExecutionResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
