package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/commission"
)

// Snapshot is the stable projection of a scenario run compared against
// golden files. It leaves out timestamps, log entry ids and the digest.
type Snapshot struct {
	Scenario     string                `json:"scenario"`
	ExecutionID  string                `json:"executionId"`
	Status       string                `json:"status"`
	Error        string                `json:"error,omitempty"`
	Total        string                `json:"totalCommission"`
	Participants []ParticipantSnapshot `json:"participants"`
	Saved        int                   `json:"saved"`
}

// ParticipantSnapshot is one participant in a Snapshot. Amounts are
// rendered with decimal.Decimal.String so scale differences do not show.
type ParticipantSnapshot struct {
	ID               string            `json:"id"`
	QualifyingAmount string            `json:"qualifyingAmount"`
	Tier             string            `json:"tier"`
	Rate             string            `json:"rate"`
	Commission       string            `json:"commission"`
	Qualified        bool              `json:"qualified"`
	Records          RecordCounts      `json:"records"`
	AppliedRules     []string          `json:"appliedRules"`
	ExcludedRules    []string          `json:"excludedRules"`
	Impacts          map[string]string `json:"impacts"`
}

// RecordCounts breaks down a participant's records.
type RecordCounts struct {
	Qualified    int `json:"qualified"`
	Excluded     int `json:"excluded"`
	Disqualified int `json:"disqualified"`
}

// NewSnapshot projects a result.
func NewSnapshot(name string, result *Result) Snapshot {
	res := result.Execution
	s := Snapshot{
		Scenario:     name,
		ExecutionID:  res.ExecutionID,
		Status:       string(res.Status),
		Error:        res.Error,
		Total:        res.TotalCommission.String(),
		Participants: make([]ParticipantSnapshot, 0, len(res.ParticipantResults)),
		Saved:        len(result.Saved),
	}
	for _, pr := range res.ParticipantResults {
		s.Participants = append(s.Participants, participantSnapshot(pr))
	}
	return s
}

func participantSnapshot(pr commission.ParticipantResult) ParticipantSnapshot {
	ps := ParticipantSnapshot{
		ID:               pr.ParticipantID,
		QualifyingAmount: pr.QualifyingAmount.String(),
		Rate:             pr.AppliedRate.String(),
		Commission:       pr.Commission.String(),
		Qualified:        pr.Qualified,
		Records: RecordCounts{
			Qualified:    pr.QualifiedRecords,
			Excluded:     pr.ExcludedRecords,
			Disqualified: pr.DisqualifiedRecords,
		},
		AppliedRules:  append([]string{}, pr.AppliedRules...),
		ExcludedRules: append([]string{}, pr.ExcludedRules...),
		Impacts:       make(map[string]string, len(pr.Adjustments)),
	}
	if pr.Tier != nil {
		ps.Tier = pr.Tier.From.String() + "-" + pr.Tier.To.String()
	}
	for _, adj := range pr.Adjustments {
		ps.Impacts[adj.ID] = adj.Impact.String()
	}
	return ps
}

// Marshal renders the snapshot as canonical JSON followed by a newline.
func (s Snapshot) Marshal() ([]byte, error) {
	b, err := canonical.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot be run. A snapshot mismatch fails
// the test through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
