// Package tier computes commissions from qualifying amounts.
package tier

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
)

var hundred = decimal.NewFromInt(100)

// FindTier returns the first tier whose [From, To] contains amount. When
// none does, it falls back to the first tier and reports matched=false.
// ok is false only when there are no tiers.
func FindTier(tiers []plan.Tier, amount decimal.Decimal) (t plan.Tier, matched, ok bool) {
	if len(tiers) == 0 {
		return plan.Tier{}, false, false
	}
	for _, candidate := range tiers {
		if candidate.Contains(amount) {
			return candidate, true, true
		}
	}
	return tiers[0], false, true
}

// BaseCommission is amount * rate / 100.
func BaseCommission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// ApplyCredit scales commission by the first credit level's percent. With
// no credit levels the commission is unchanged.
func ApplyCredit(commissionAmount decimal.Decimal, levels []plan.CreditLevel) (decimal.Decimal, *plan.CreditLevel) {
	if len(levels) == 0 {
		return commissionAmount, nil
	}
	level := levels[0]
	return commissionAmount.Mul(level.Percent).Div(hundred), &level
}

// Calculator applies a plan's commission structure to participant results.
type Calculator struct {
	logs *execlog.Store
}

// New creates a Calculator writing audit entries to logs. logs may be nil.
func New(logs *execlog.Store) *Calculator {
	return &Calculator{logs: logs}
}

// ApplyCommissionStructure sets the tier, rate and commission of result.
//
// A plan without tiers is logged as an error and leaves the commission at
// zero; the execution carries on. A positive minimum qualification that the
// amount does not reach also yields zero commission and Qualified=false.
func (c *Calculator) ApplyCommissionStructure(result *commission.ParticipantResult, p plan.IncentivePlan, executionID string) {
	rec := c.logs.Recorder(executionID).Participant(result.ParticipantID)
	amount := result.QualifyingAmount

	result.Commission = decimal.Zero
	result.AppliedRate = decimal.Zero
	result.Tier = nil

	t, matched, ok := FindTier(p.Tiers, amount)
	if !ok {
		rec.Error(execlog.CategoryCommissionCalculation,
			fmt.Sprintf("Plan %s defines no commission tiers; commission for %s left at 0", p.ID, result.ParticipantID),
			map[string]any{"amount": amount.String()})
		return
	}

	result.Tier = &t
	result.AppliedRate = t.Rate
	if !matched {
		rec.Warn(execlog.CategoryCommissionCalculation,
			fmt.Sprintf("Amount %s is outside every tier, using first tier %s-%s", amount, t.From, t.To),
			map[string]any{"amount": amount.String(), "from": t.From.String(), "to": t.To.String()})
	}

	minimum := p.Measurement.MinQualification
	if minimum.IsPositive() && amount.LessThan(minimum) {
		result.Qualified = false
		rec.Warn(execlog.CategoryMinimumQualification,
			fmt.Sprintf("Amount %s is below the minimum qualification %s", amount, minimum),
			map[string]any{"amount": amount.String(), "minimum": minimum.String()})
		return
	}

	base := BaseCommission(amount, t.Rate)
	final, level := ApplyCredit(base, p.CreditLevels)
	result.Commission = final

	details := map[string]any{
		"amount":         amount.String(),
		"from":           t.From.String(),
		"to":             t.To.String(),
		"rate":           t.Rate.String(),
		"baseCommission": base.String(),
		"commission":     final.String(),
	}
	if level != nil {
		result.CreditRole = level.Role
		details["creditRole"] = level.Role
		details["creditPercent"] = level.Percent.String()
	}
	rec.Info(execlog.CategoryCommissionCalculation,
		fmt.Sprintf("Tier %s-%s at %s%%: commission %s", t.From, t.To, t.Rate, final),
		details)
}
