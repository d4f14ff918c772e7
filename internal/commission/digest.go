package commission

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/plan"
)

// digestParticipant carries only the calculated fields of a participant.
type digestParticipant struct {
	ParticipantID       string             `json:"participantId"`
	QualifyingAmount    decimal.Decimal    `json:"qualifyingAmount"`
	Adjustments         []AdjustmentImpact `json:"adjustments"`
	AppliedRules        []string           `json:"appliedRules"`
	ExcludedRules       []string           `json:"excludedRules"`
	QualifiedRecords    int                `json:"qualifiedRecords"`
	DisqualifiedRecords int                `json:"disqualifiedRecords"`
	ExcludedRecords     int                `json:"excludedRecords"`
	Tier                *plan.Tier         `json:"tier"`
	AppliedRate         decimal.Decimal    `json:"appliedRate"`
	Commission          decimal.Decimal    `json:"commission"`
	CreditRole          string             `json:"creditRole"`
	Qualified           bool               `json:"qualified"`
}

type digestResult struct {
	PlanID          string              `json:"planId"`
	Currency        string              `json:"currency"`
	Period          Period              `json:"period"`
	Status          Status              `json:"status"`
	TotalCommission decimal.Decimal     `json:"totalCommission"`
	Participants    []digestParticipant `json:"participants"`
}

// ComputeDigest fingerprints the calculated content of r. Execution id,
// mode, timestamps and log entries are left out, so two runs over the same
// plan and records produce the same digest.
func ComputeDigest(r Result) (string, error) {
	d := digestResult{
		PlanID:          r.PlanID,
		Currency:        r.Currency,
		Period:          Period{Start: r.Period.Start.UTC(), End: r.Period.End.UTC()},
		Status:          r.Status,
		TotalCommission: r.TotalCommission,
		Participants:    make([]digestParticipant, 0, len(r.ParticipantResults)),
	}
	for _, p := range r.ParticipantResults {
		d.Participants = append(d.Participants, digestParticipant{
			ParticipantID:       p.ParticipantID,
			QualifyingAmount:    p.QualifyingAmount,
			Adjustments:         p.Adjustments,
			AppliedRules:        p.AppliedRules,
			ExcludedRules:       p.ExcludedRules,
			QualifiedRecords:    p.QualifiedRecords,
			DisqualifiedRecords: p.DisqualifiedRecords,
			ExcludedRecords:     p.ExcludedRecords,
			Tier:                p.Tier,
			AppliedRate:         p.AppliedRate,
			Commission:          p.Commission,
			CreditRole:          p.CreditRole,
			Qualified:           p.Qualified,
		})
	}
	return canonical.Digest(canonical.DomainResult, d)
}
