package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/record"
	"github.com/roach88/icm/internal/source"
)

// Scenario defines one end-to-end commission run and its expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// PlanFile is a plan document path, relative to the scenario file.
	PlanFile string `yaml:"plan_file,omitempty"`

	// Plan is an inline plan. Exactly one of Plan and PlanFile is set.
	Plan *plan.IncentivePlan `yaml:"plan,omitempty"`

	// Records are served by the in-memory transaction source.
	Records source.RecordsFile `yaml:"records"`

	// Params are the execution parameters.
	Params ParamsStep `yaml:"params"`

	// SourceError makes every source fetch fail with this message.
	SourceError string `yaml:"source_error,omitempty"`

	// Expect is checked against the returned result.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Assertions validate the execution log and the plan store.
	Assertions []Assertion `yaml:"assertions"`

	// ExecutionPrefix prefixes generated execution ids. Defaults to "exec".
	ExecutionPrefix string `yaml:"execution_prefix,omitempty"`

	// dir is the scenario file's directory, used to resolve PlanFile.
	dir string
}

// ParamsStep is the YAML form of commission.ExecutionParams. Dates are
// YYYY-MM-DD or RFC 3339.
type ParamsStep struct {
	Mode          string   `yaml:"mode"`
	ExecutionDate string   `yaml:"execution_date,omitempty"`
	PeriodStart   string   `yaml:"period_start"`
	PeriodEnd     string   `yaml:"period_end"`
	Participants  []string `yaml:"participants,omitempty"`
	SalesOrgs     []string `yaml:"sales_orgs,omitempty"`
	RecordID      string   `yaml:"record_id,omitempty"`
}

// ExpectClause states the expected result. Only the fields that are set
// are compared.
type ExpectClause struct {
	Status           string                       `yaml:"status,omitempty"`
	TotalCommission  *decimal.Decimal             `yaml:"total_commission,omitempty"`
	Participants     map[string]ParticipantExpect `yaml:"participants,omitempty"`
	ParticipantCount *int                         `yaml:"participant_count,omitempty"`
	ErrorContains    string                       `yaml:"error_contains,omitempty"`
}

// ParticipantExpect is a subset match on one participant result.
type ParticipantExpect struct {
	QualifyingAmount *decimal.Decimal           `yaml:"qualifying_amount,omitempty"`
	Commission       *decimal.Decimal           `yaml:"commission,omitempty"`
	Rate             *decimal.Decimal           `yaml:"rate,omitempty"`
	Qualified        *bool                      `yaml:"qualified,omitempty"`
	AppliedRules     []string                   `yaml:"applied_rules,omitempty"`
	ExcludedRules    []string                   `yaml:"excluded_rules,omitempty"`
	Impacts          map[string]decimal.Decimal `yaml:"impacts,omitempty"`
}

// Assertion validates the execution log or the plan store.
type Assertion struct {
	// Type is one of log_contains, log_order, log_count, persisted.
	Type string `yaml:"type"`

	Category    string `yaml:"category,omitempty"`
	Level       string `yaml:"level,omitempty"`
	Participant string `yaml:"participant,omitempty"`

	// Categories is the expected first-appearance order (log_order).
	Categories []string `yaml:"categories,omitempty"`

	// Count is the expected number of matches (log_count, persisted).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLogContains = "log_contains"
	AssertLogOrder    = "log_order"
	AssertLogCount    = "log_count"
	AssertPersisted   = "persisted"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	if s.PlanFile != "" && !filepath.IsAbs(s.PlanFile) {
		s.PlanFile = filepath.Join(s.dir, s.PlanFile)
	}
	if s.PlanFile != "" {
		if _, err := os.Stat(s.PlanFile); err != nil {
			return nil, fmt.Errorf("invalid scenario: plan file not found: %s", s.PlanFile)
		}
	}
	return s, nil
}

// ParseScenario decodes a scenario document with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// executionParams converts the YAML params.
func (s *Scenario) executionParams(planID string) (commission.ExecutionParams, error) {
	p := s.Params
	out := commission.ExecutionParams{
		PlanID:       planID,
		Mode:         commission.Mode(p.Mode),
		Participants: p.Participants,
		SalesOrgs:    p.SalesOrgs,
		RecordID:     p.RecordID,
	}
	var err error
	if out.PeriodStart, err = parseDate("period_start", p.PeriodStart); err != nil {
		return out, err
	}
	if out.PeriodEnd, err = parseDate("period_end", p.PeriodEnd); err != nil {
		return out, err
	}
	out.ExecutionDate = out.PeriodEnd
	if p.ExecutionDate != "" {
		if out.ExecutionDate, err = parseDate("execution_date", p.ExecutionDate); err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseDate(field, v string) (time.Time, error) {
	t, ok := record.ParseTime(v)
	if !ok {
		return time.Time{}, fmt.Errorf("params.%s: invalid date %q", field, v)
	}
	return t, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Plan == nil) == (s.PlanFile == "") {
		return fmt.Errorf("exactly one of plan and plan_file is required")
	}
	if !commission.Mode(s.Params.Mode).Valid() {
		return fmt.Errorf("params.mode: unknown mode %q", s.Params.Mode)
	}
	if s.Params.PeriodStart == "" || s.Params.PeriodEnd == "" {
		return fmt.Errorf("params: period_start and period_end are required")
	}
	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}
	if s.Expect != nil && s.Expect.Status != "" {
		switch commission.Status(s.Expect.Status) {
		case commission.StatusCompleted, commission.StatusFailed:
		default:
			return fmt.Errorf("expect.status: unknown status %q", s.Expect.Status)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Level != "" {
		switch execlog.Level(a.Level) {
		case execlog.LevelInfo, execlog.LevelWarning, execlog.LevelError, execlog.LevelDebug:
		default:
			return fmt.Errorf("assertions[%d]: unknown level %q", index, a.Level)
		}
	}

	switch a.Type {
	case AssertLogContains:
		if a.Category == "" {
			return fmt.Errorf("assertions[%d]: category is required for log_contains", index)
		}
	case AssertLogOrder:
		if len(a.Categories) == 0 {
			return fmt.Errorf("assertions[%d]: categories list is required for log_order", index)
		}
	case AssertLogCount:
		if a.Category == "" && a.Level == "" {
			return fmt.Errorf("assertions[%d]: category or level is required for log_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for log_count", index)
		}
	case AssertPersisted:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for persisted", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
