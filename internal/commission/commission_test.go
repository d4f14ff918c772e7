package commission

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/source"
)

func TestExecutionParams_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ok := ExecutionParams{PlanID: "p", Mode: Simulate, PeriodStart: start, PeriodEnd: end}
	assert.NoError(t, ok.Validate())

	badMode := ok
	badMode.Mode = "Dry"
	assert.ErrorContains(t, badMode.Validate(), "unknown execution mode")

	noPeriod := ok
	noPeriod.PeriodEnd = time.Time{}
	assert.Error(t, noPeriod.Validate())

	reversed := ok
	reversed.PeriodStart, reversed.PeriodEnd = end, start
	assert.ErrorContains(t, reversed.Validate(), "ends before")
}

func TestResolveFields(t *testing.T) {
	assert.Equal(t, FieldMap{Amount: "NetValue", Participant: "SalesRep"},
		ResolveFields(source.SalesOrders, plan.FieldOverrides{}))
	assert.Equal(t, FieldMap{Amount: "PaidAmount", Participant: "Owner"},
		ResolveFields(source.PaidInvoices, plan.FieldOverrides{Participant: "Owner"}))
}

func sampleResult() Result {
	p := NewParticipantResult("alice")
	p.QualifyingAmount = decimal.RequireFromString("75000")
	p.Commission = decimal.RequireFromString("1500")
	p.AppliedRate = decimal.NewFromInt(2)
	return Result{
		ExecutionID:        "exec-1",
		PlanID:             "plan-1",
		Currency:           "USD",
		Mode:               Simulate,
		Status:             StatusCompleted,
		Timestamp:          time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalCommission:    decimal.RequireFromString("1500"),
		ParticipantResults: []ParticipantResult{*p},
	}
}

func TestComputeDigest_IgnoresRunIdentity(t *testing.T) {
	a := sampleResult()
	b := sampleResult()
	b.ExecutionID = "exec-2"
	b.Mode = Production
	b.Timestamp = b.Timestamp.Add(time.Hour)
	b.ParticipantResults[0].Logs = []execlog.Entry{{Message: "x"}}
	b.LogSummary = execlog.Summary{Total: 1, Info: 1}

	da, err := ComputeDigest(a)
	require.NoError(t, err)
	db, err := ComputeDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestComputeDigest_DecimalScaleInsensitive(t *testing.T) {
	a := sampleResult()
	b := sampleResult()
	b.TotalCommission = decimal.RequireFromString("1500.00")

	da, _ := ComputeDigest(a)
	db, _ := ComputeDigest(b)
	assert.Equal(t, da, db, "decimal encodes without trailing zeros")
}

func TestComputeDigest_ChangesWithCommission(t *testing.T) {
	a := sampleResult()
	b := sampleResult()
	b.ParticipantResults[0].Commission = decimal.RequireFromString("1500.01")

	da, _ := ComputeDigest(a)
	db, _ := ComputeDigest(b)
	assert.NotEqual(t, da, db)
}
