// Package commission holds the values passed between the stages of an
// execution and the result returned to callers.
package commission

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/record"
	"github.com/roach88/icm/internal/source"
)

// Mode selects whether results are persisted.
type Mode string

const (
	Simulate   Mode = "Simulate"
	Production Mode = "Production"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == Simulate || m == Production
}

// ExecutionParams is the per-run input.
type ExecutionParams struct {
	PlanID        string    `json:"planId"`
	Mode          Mode      `json:"mode"`
	ExecutionDate time.Time `json:"executionDate"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	Participants  []string  `json:"participants,omitempty"`
	SalesOrgs     []string  `json:"salesOrgs,omitempty"`
	RecordID      string    `json:"recordId,omitempty"`
}

// Validate checks the parameters before an execution starts.
func (p ExecutionParams) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("unknown execution mode %q", p.Mode)
	}
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() {
		return fmt.Errorf("execution period is required")
	}
	if p.PeriodEnd.Before(p.PeriodStart) {
		return fmt.Errorf("execution period ends before it starts")
	}
	return nil
}

// SelectionMetadata describes how records were fetched.
type SelectionMetadata struct {
	RecordCount int          `json:"recordCount"`
	FetchedAt   time.Time    `json:"fetchedAt"`
	Query       source.Query `json:"query"`
	// Qualified is set once qualifying criteria have run.
	Qualified *int `json:"qualified,omitempty"`
}

// SelectedData is the output of data selection.
type SelectedData struct {
	Records    []record.Record   `json:"records"`
	SourceType source.Type       `json:"sourceType"`
	Fields     FieldMap          `json:"fields"`
	Metadata   SelectionMetadata `json:"metadata"`
}

// FieldMap names the record fields the later stages read.
type FieldMap struct {
	Amount      string `json:"amount"`
	Participant string `json:"participant"`
}

// ResolveFields picks the amount and participant field names for a source
// type, honoring plan overrides.
func ResolveFields(t source.Type, overrides plan.FieldOverrides) FieldMap {
	schema := t.Schema()
	fm := FieldMap{Amount: schema.Amount, Participant: schema.Participant}
	if overrides.Amount != "" {
		fm.Amount = overrides.Amount
	}
	if overrides.Participant != "" {
		fm.Participant = overrides.Participant
	}
	return fm
}

// AdjustmentImpact is the monetary effect of one adjustment, boost or cap
// on a participant's qualifying amount.
type AdjustmentImpact struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Impact      decimal.Decimal `json:"impact"`
}

// ParticipantResult accumulates one participant's outcome.
type ParticipantResult struct {
	ParticipantID       string             `json:"participantId"`
	QualifyingAmount    decimal.Decimal    `json:"qualifyingAmount"`
	Adjustments         []AdjustmentImpact `json:"adjustments"`
	AppliedRules        []string           `json:"appliedRules"`
	ExcludedRules       []string           `json:"excludedRules"`
	QualifiedRecords    int                `json:"qualifiedRecords"`
	DisqualifiedRecords int                `json:"disqualifiedRecords"`
	ExcludedRecords     int                `json:"excludedRecords"`
	Tier                *plan.Tier         `json:"tier,omitempty"`
	AppliedRate         decimal.Decimal    `json:"appliedRate"`
	Commission          decimal.Decimal    `json:"commission"`
	CreditRole          string             `json:"creditRole,omitempty"`
	Qualified           bool               `json:"qualified"`
	Logs                []execlog.Entry    `json:"logs"`
}

// NewParticipantResult returns an empty accumulator.
func NewParticipantResult(participantID string) *ParticipantResult {
	return &ParticipantResult{
		ParticipantID: participantID,
		Adjustments:   []AdjustmentImpact{},
		AppliedRules:  []string{},
		ExcludedRules: []string{},
		Qualified:     true,
		Logs:          []execlog.Entry{},
	}
}

// ProcessedData is the output of the rule processor, sorted by
// participant id.
type ProcessedData struct {
	Participants []*ParticipantResult `json:"participants"`
	Fields       FieldMap             `json:"fields"`
}

// Status is the outcome of an execution.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Period is the reporting window of an execution.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result is the immutable output of one execution.
type Result struct {
	ExecutionID        string              `json:"executionId"`
	PlanID             string              `json:"planId"`
	PlanName           string              `json:"planName"`
	Currency           string              `json:"currency"`
	Mode               Mode                `json:"mode"`
	Period             Period              `json:"period"`
	Status             Status              `json:"status"`
	Timestamp          time.Time           `json:"timestamp"`
	TotalCommission    decimal.Decimal     `json:"totalCommission"`
	ParticipantResults []ParticipantResult `json:"participantResults"`
	LogSummary         execlog.Summary     `json:"logSummary"`
	Error              string              `json:"error,omitempty"`
	Digest             string              `json:"digest,omitempty"`
}

// Failed reports whether the execution failed.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}
