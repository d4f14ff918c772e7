package plan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/icm/internal/record"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize returns a copy of the plan with every optional section given an
// explicit value:
//
//   - nil slices become empty slices
//   - Boost actions without a factor get DefaultBoostFactor
//   - Cap actions without a limit get DefaultCapLimit
//   - adjustments without a factor get a factor of 1
//
// Only absent payloads are filled; an explicit zero factor or limit is kept.
//   - a missing status becomes StatusDraft
//
// Normalize does not touch the revenue base: an unknown value is reported
// at data selection time, where it falls back to sales orders.
func Normalize(p IncentivePlan) IncentivePlan {
	out := p

	out.Tiers = append([]Tier{}, p.Tiers...)
	out.CreditLevels = append([]CreditLevel{}, p.CreditLevels...)
	out.Measurement.PrimaryMetrics = append([]record.Condition{}, p.Measurement.PrimaryMetrics...)
	out.Measurement.Exclusions = append([]Exclusion{}, p.Measurement.Exclusions...)

	out.Measurement.Adjustments = make([]Adjustment, len(p.Measurement.Adjustments))
	for i, adj := range p.Measurement.Adjustments {
		if adj.Factor == nil {
			f := adj.Multiplier()
			adj.Factor = &f
		}
		if adj.ID == "" {
			adj.ID = fmt.Sprintf("adjustment-%d", i+1)
		}
		out.Measurement.Adjustments[i] = adj
	}

	out.CustomRules = make([]CustomRule, len(p.CustomRules))
	for i, rule := range p.CustomRules {
		switch a := rule.Action.(type) {
		case Boost:
			if a.Factor == nil {
				a = BoostBy(a.Multiplier())
			}
			rule.Action = a
		case Cap:
			if a.Limit == nil {
				a = CapAt(a.Ceiling())
			}
			rule.Action = a
		}
		out.CustomRules[i] = rule
	}

	if out.Status == "" {
		out.Status = StatusDraft
	}
	return out
}

// Validate checks the structural shape of a plan: required identifiers,
// well-formed conditions and known operators. It does not check business
// consistency such as overlapping tiers.
func Validate(p IncentivePlan) error {
	if err := structValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &ValidationError{Fields: fieldErrors(verrs)}
		}
		return fmt.Errorf("validate plan: %w", err)
	}

	var problems []string
	check := func(where string, op record.Operator) {
		if !op.Valid() {
			problems = append(problems, fmt.Sprintf("%s: unsupported operator %q", where, op))
		}
	}
	for i, c := range p.Measurement.PrimaryMetrics {
		check(fmt.Sprintf("measurementRules.primaryMetrics[%d]", i), c.Operator)
	}
	for i, e := range p.Measurement.Exclusions {
		check(fmt.Sprintf("measurementRules.exclusions[%d]", i), e.Condition.Operator)
	}
	for i, a := range p.Measurement.Adjustments {
		check(fmt.Sprintf("measurementRules.adjustments[%d]", i), a.Condition.Operator)
	}
	for i, r := range p.CustomRules {
		check(fmt.Sprintf("customRules[%d]", i), r.Condition.Operator)
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// ValidationError lists every structural problem found in a plan.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return "invalid plan: " + e.Fields[0]
	}
	return fmt.Sprintf("invalid plan: %d problems, first: %s", len(e.Fields), e.Fields[0])
}

func fieldErrors(verrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return out
}
