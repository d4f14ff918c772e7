package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var standardTiers = []plan.Tier{
	{From: dec("0"), To: dec("50000"), Rate: dec("1")},
	{From: dec("50001"), To: dec("100000"), Rate: dec("2")},
}

func TestFindTier(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		wantRate string
		matched  bool
	}{
		{"lower bound", "0", "1", true},
		{"inside first", "25000", "1", true},
		{"upper bound inclusive", "50000", "1", true},
		{"gap falls back to first", "50000.5", "1", false},
		{"second tier", "75000", "2", true},
		{"above all falls back to first", "250000", "1", false},
		{"below all falls back to first", "-10", "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched, ok := FindTier(standardTiers, dec(tt.amount))
			require.True(t, ok)
			assert.True(t, got.Rate.Equal(dec(tt.wantRate)))
			assert.Equal(t, tt.matched, matched)
		})
	}

	_, _, ok := FindTier(nil, dec("1"))
	assert.False(t, ok)
}

func TestBaseCommission_Exact(t *testing.T) {
	assert.True(t, BaseCommission(dec("75000"), dec("2")).Equal(dec("1500")))
	assert.True(t, BaseCommission(dec("0.1"), dec("3")).Equal(dec("0.003")))
	assert.True(t, BaseCommission(dec("33333.33"), dec("1.5")).Equal(dec("499.99995")))
}

func TestApplyCredit(t *testing.T) {
	got, level := ApplyCredit(dec("1500"), []plan.CreditLevel{{Role: "AE", Percent: dec("50")}, {Role: "SE", Percent: dec("25")}})
	assert.True(t, got.Equal(dec("750")))
	require.NotNil(t, level)
	assert.Equal(t, "AE", level.Role, "only the first level applies")

	full, _ := ApplyCredit(dec("1234.56"), []plan.CreditLevel{{Role: "AE", Percent: dec("100")}})
	assert.True(t, full.Equal(dec("1234.56")), "100% is a no-op")

	none, level := ApplyCredit(dec("10"), nil)
	assert.True(t, none.Equal(dec("10")))
	assert.Nil(t, level)
}

func setup(t *testing.T) (*Calculator, *execlog.Store) {
	t.Helper()
	logs := execlog.NewStore()
	require.NoError(t, logs.Start("exec-1", "plan-1", "Simulate"))
	return New(logs), logs
}

func participant(amount string) *commission.ParticipantResult {
	r := commission.NewParticipantResult("alice")
	r.QualifyingAmount = dec(amount)
	return r
}

func TestApplyCommissionStructure_SecondTier(t *testing.T) {
	calc, logs := setup(t)
	r := participant("75000")

	calc.ApplyCommissionStructure(r, plan.IncentivePlan{ID: "plan-1", Tiers: standardTiers}, "exec-1")

	require.NotNil(t, r.Tier)
	assert.True(t, r.Tier.From.Equal(dec("50001")))
	assert.True(t, r.AppliedRate.Equal(dec("2")))
	assert.True(t, r.Commission.Equal(dec("1500")))
	assert.True(t, r.Qualified)

	l, _ := logs.Get("exec-1")
	require.Len(t, l.Entries, 1)
	assert.Equal(t, execlog.LevelInfo, l.Entries[0].Level)
	assert.Equal(t, "alice", l.Entries[0].ParticipantID)
}

func TestApplyCommissionStructure_CreditHalves(t *testing.T) {
	calc, _ := setup(t)
	r := participant("75000")

	calc.ApplyCommissionStructure(r, plan.IncentivePlan{
		Tiers:        standardTiers,
		CreditLevels: []plan.CreditLevel{{Role: "AE", Percent: dec("50")}},
	}, "exec-1")

	assert.True(t, r.Commission.Equal(dec("750")))
	assert.Equal(t, "AE", r.CreditRole)
}

func TestApplyCommissionStructure_ZeroAmountUsesFirstTier(t *testing.T) {
	calc, _ := setup(t)
	r := participant("0")

	calc.ApplyCommissionStructure(r, plan.IncentivePlan{Tiers: standardTiers}, "exec-1")

	require.NotNil(t, r.Tier)
	assert.True(t, r.Tier.Rate.Equal(dec("1")))
	assert.True(t, r.Commission.IsZero())
}

func TestApplyCommissionStructure_OutsideTiersWarns(t *testing.T) {
	calc, logs := setup(t)
	r := participant("200000")

	calc.ApplyCommissionStructure(r, plan.IncentivePlan{Tiers: standardTiers}, "exec-1")

	assert.True(t, r.Commission.Equal(dec("2000")), "first tier rate applies to the fallback")
	l, _ := logs.Get("exec-1")
	assert.Equal(t, 1, l.Summary.Warnings)
}

func TestApplyCommissionStructure_NoTiers(t *testing.T) {
	calc, logs := setup(t)
	r := participant("75000")

	calc.ApplyCommissionStructure(r, plan.IncentivePlan{ID: "plan-1"}, "exec-1")

	assert.True(t, r.Commission.IsZero())
	assert.Nil(t, r.Tier)

	l, _ := logs.Get("exec-1")
	require.Len(t, l.Entries, 1)
	assert.Equal(t, execlog.LevelError, l.Entries[0].Level)
	assert.Equal(t, execlog.CategoryCommissionCalculation, l.Entries[0].Category)
}

func TestApplyCommissionStructure_MinimumQualification(t *testing.T) {
	calc, logs := setup(t)
	p := plan.IncentivePlan{
		Tiers:       standardTiers,
		Measurement: plan.MeasurementRules{MinQualification: dec("10000")},
	}

	below := participant("9999.99")
	calc.ApplyCommissionStructure(below, p, "exec-1")
	assert.False(t, below.Qualified)
	assert.True(t, below.Commission.IsZero())
	require.NotNil(t, below.Tier)

	at := participant("10000")
	calc.ApplyCommissionStructure(at, p, "exec-1")
	assert.True(t, at.Qualified)
	assert.True(t, at.Commission.Equal(dec("100")))

	l, _ := logs.Get("exec-1")
	var minimum []execlog.Entry
	for _, e := range l.Entries {
		if e.Category == execlog.CategoryMinimumQualification {
			minimum = append(minimum, e)
		}
	}
	require.Len(t, minimum, 1)
	assert.Equal(t, execlog.LevelWarning, minimum[0].Level)
}

func TestApplyCommissionStructure_WithoutLog(t *testing.T) {
	r := participant("1000")
	New(nil).ApplyCommissionStructure(r, plan.IncentivePlan{Tiers: standardTiers}, "")
	assert.True(t, r.Commission.Equal(dec("10")))
}
