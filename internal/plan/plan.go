// Package plan defines incentive plan documents as read by the commission
// engine.
//
// A plan is owned by the plan store and is immutable for the duration of an
// execution. Plans are decoded from JSON, YAML or CUE, then passed through
// Normalize once so that every optional section has an explicit value and
// the engine never has to reach for ad hoc defaults.
package plan

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/icm/internal/record"
)

// ErrNotFound is returned by plan stores when no plan has the requested id.
var ErrNotFound = errors.New("plan not found")

// RevenueBase selects which transaction type feeds a plan.
type RevenueBase string

const (
	RevenueSalesOrders  RevenueBase = "SalesOrders"
	RevenueInvoices     RevenueBase = "Invoices"
	RevenuePaidInvoices RevenueBase = "PaidInvoices"
)

// Known reports whether the revenue base is one of the supported values.
func (r RevenueBase) Known() bool {
	switch r {
	case RevenueSalesOrders, RevenueInvoices, RevenuePaidInvoices:
		return true
	}
	return false
}

// Status is the lifecycle state of a plan in the plan store.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusExecuted Status = "executed"
)

// IncentivePlan is a commission plan definition.
type IncentivePlan struct {
	ID           string           `json:"id" yaml:"id" validate:"required"`
	Name         string           `json:"name" yaml:"name" validate:"required"`
	Currency     string           `json:"currency" yaml:"currency" validate:"required"`
	RevenueBase  RevenueBase      `json:"revenueBase" yaml:"revenueBase"`
	Tiers        []Tier           `json:"tiers" yaml:"tiers"`
	Measurement  MeasurementRules `json:"measurementRules" yaml:"measurementRules"`
	CreditLevels []CreditLevel    `json:"creditLevels" yaml:"creditLevels"`
	CustomRules  []CustomRule     `json:"customRules" yaml:"customRules" validate:"dive"`

	// Fields overrides the field names the source type would otherwise use.
	Fields FieldOverrides `json:"fields,omitzero" yaml:"fields,omitempty"`

	Status         Status     `json:"status,omitempty" yaml:"status,omitempty"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty" yaml:"lastExecutedAt,omitempty"`
}

// FieldOverrides names record fields explicitly for sources whose schema
// differs from the defaults.
type FieldOverrides struct {
	Amount      string `json:"amount,omitempty" yaml:"amount,omitempty"`
	Participant string `json:"participant,omitempty" yaml:"participant,omitempty"`
}

// Tier maps an inclusive [From, To] amount range to a commission rate in
// percent.
type Tier struct {
	From decimal.Decimal `json:"from" yaml:"from"`
	To   decimal.Decimal `json:"to" yaml:"to"`
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

// Contains reports whether amount lies within [From, To].
func (t Tier) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(t.From) && amount.LessThanOrEqual(t.To)
}

// MeasurementRules holds the qualification, adjustment and exclusion rules.
type MeasurementRules struct {
	PrimaryMetrics   []record.Condition `json:"primaryMetrics" yaml:"primaryMetrics" validate:"dive"`
	MinQualification decimal.Decimal    `json:"minQualification" yaml:"minQualification"`
	Adjustments      []Adjustment       `json:"adjustments" yaml:"adjustments" validate:"dive"`
	Exclusions       []Exclusion        `json:"exclusions" yaml:"exclusions" validate:"dive"`
}

// Adjustment multiplies a record's amount by Factor when Condition matches.
// A nil Factor means 1.
type Adjustment struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description" yaml:"description"`
	Condition   record.Condition `json:"condition" yaml:"condition"`
	Factor      *decimal.Decimal `json:"factor,omitempty" yaml:"factor,omitempty"`
}

// Multiplier returns the factor in effect.
func (a Adjustment) Multiplier() decimal.Decimal {
	if a.Factor == nil {
		return decimal.NewFromInt(1)
	}
	return *a.Factor
}

// Exclusion removes a record when Condition matches.
type Exclusion struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description" yaml:"description"`
	Condition   record.Condition `json:"condition" yaml:"condition"`
}

// Label returns the description, falling back to the condition text.
func (e Exclusion) Label() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Condition.String()
}

// CreditLevel assigns a percentage of the computed commission to a role.
type CreditLevel struct {
	Role    string          `json:"role" yaml:"role"`
	Percent decimal.Decimal `json:"percent" yaml:"percent"`
}
