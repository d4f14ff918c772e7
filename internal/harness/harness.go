package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/engine"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/source"
	"github.com/roach88/icm/internal/testutil"
)

// RunTime is the fixed wall clock every scenario runs at.
var RunTime = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

// Harness holds the collaborators of one scenario run.
type Harness struct {
	source *source.MemoryClient
	plans  *memoryPlans
	logs   *execlog.Store
	clock  *testutil.FixedClock
	ids    *testutil.SequenceGenerator
	logger *zap.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger passed to the engine.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory collaborators:
//  1. load the plan and register it in the plan store
//  2. serve the scenario records from a memory source
//  3. execute with a fixed clock and sequential execution ids
//  4. check the expect clause and evaluate assertions
//
// An error is returned only when the scenario itself cannot be run; a
// failed execution is reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	p, err := scenario.loadPlan()
	if err != nil {
		return nil, err
	}
	params, err := scenario.executionParams(p.ID)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFixedClock(RunTime)
	h := &Harness{
		source: source.NewMemoryClient(),
		plans:  newMemoryPlans(),
		clock:  clock,
		ids:    testutil.NewSequenceGenerator(scenario.ExecutionPrefix),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logs = execlog.NewStore(execlog.WithNow(clock.Now))

	for t, recs := range scenario.Records {
		h.source.Add(t, recs...)
	}
	if scenario.SourceError != "" {
		h.source.FailWith(errors.New(scenario.SourceError))
	}
	h.plans.put(p)

	eng := engine.New(h.source, h.logs,
		engine.WithPlanStore(h.plans),
		engine.WithClock(clock),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
	)

	ctx := context.Background()
	res := eng.ExecuteByID(ctx, p.ID, params)

	result := NewResult()
	result.Execution = res
	result.Saved, result.Marked = h.plans.writes()
	if l, err := eng.ExecutionLog(ctx, res.ExecutionID); err == nil {
		result.Log = l
	}

	if scenario.Expect != nil {
		for _, msg := range checkExpect(*scenario.Expect, res) {
			result.AddError(msg)
		}
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Debug("scenario finished",
		zap.String("scenario", scenario.Name),
		zap.String("execution_id", res.ExecutionID),
		zap.Bool("pass", result.Pass))
	return result, nil
}

func (s *Scenario) loadPlan() (plan.IncentivePlan, error) {
	if s.PlanFile != "" {
		p, err := plan.LoadFile(s.PlanFile)
		if err != nil {
			return plan.IncentivePlan{}, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		return p, nil
	}
	p := plan.Normalize(*s.Plan)
	if err := plan.Validate(p); err != nil {
		return plan.IncentivePlan{}, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return p, nil
}

// memoryPlans is an in-memory engine.PlanStore that remembers writes.
type memoryPlans struct {
	mu     sync.Mutex
	plans  map[string]plan.IncentivePlan
	saved  []commission.Result
	marked []string
}

func newMemoryPlans() *memoryPlans {
	return &memoryPlans{plans: make(map[string]plan.IncentivePlan)}
}

func (m *memoryPlans) put(p plan.IncentivePlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
}

func (m *memoryPlans) GetPlan(_ context.Context, planID string) (plan.IncentivePlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return plan.IncentivePlan{}, fmt.Errorf("%w: %s", plan.ErrNotFound, planID)
	}
	return p, nil
}

func (m *memoryPlans) SaveExecutionResult(_ context.Context, res commission.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, res)
	return nil
}

func (m *memoryPlans) MarkPlanExecuted(_ context.Context, planID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", plan.ErrNotFound, planID)
	}
	p.Status = plan.StatusExecuted
	p.LastExecutedAt = &at
	m.plans[planID] = p
	m.marked = append(m.marked, planID)
	return nil
}

func (m *memoryPlans) writes() ([]commission.Result, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saved), slices.Clone(m.marked)
}

// checkExpect compares the result against the expect clause.
func checkExpect(exp ExpectClause, res commission.Result) []string {
	var errs []string
	if exp.Status != "" && string(res.Status) != exp.Status {
		errs = append(errs, fmt.Sprintf("status: expected %s, got %s (error: %q)", exp.Status, res.Status, res.Error))
	}
	if exp.TotalCommission != nil && !res.TotalCommission.Equal(*exp.TotalCommission) {
		errs = append(errs, fmt.Sprintf("total_commission: expected %s, got %s", exp.TotalCommission, res.TotalCommission))
	}
	if exp.ParticipantCount != nil && len(res.ParticipantResults) != *exp.ParticipantCount {
		errs = append(errs, fmt.Sprintf("participant_count: expected %d, got %d", *exp.ParticipantCount, len(res.ParticipantResults)))
	}
	if exp.ErrorContains != "" && !containsFold(res.Error, exp.ErrorContains) {
		errs = append(errs, fmt.Sprintf("error: expected to contain %q, got %q", exp.ErrorContains, res.Error))
	}

	byID := make(map[string]commission.ParticipantResult, len(res.ParticipantResults))
	for _, pr := range res.ParticipantResults {
		byID[pr.ParticipantID] = pr
	}
	for _, id := range sortedKeys(exp.Participants) {
		pr, ok := byID[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("participant %s: missing from result", id))
			continue
		}
		errs = append(errs, checkParticipant(id, exp.Participants[id], pr)...)
	}
	return errs
}

func checkParticipant(id string, exp ParticipantExpect, pr commission.ParticipantResult) []string {
	var errs []string
	if exp.QualifyingAmount != nil && !pr.QualifyingAmount.Equal(*exp.QualifyingAmount) {
		errs = append(errs, fmt.Sprintf("participant %s: qualifying_amount expected %s, got %s", id, exp.QualifyingAmount, pr.QualifyingAmount))
	}
	if exp.Commission != nil && !pr.Commission.Equal(*exp.Commission) {
		errs = append(errs, fmt.Sprintf("participant %s: commission expected %s, got %s", id, exp.Commission, pr.Commission))
	}
	if exp.Rate != nil && !pr.AppliedRate.Equal(*exp.Rate) {
		errs = append(errs, fmt.Sprintf("participant %s: rate expected %s, got %s", id, exp.Rate, pr.AppliedRate))
	}
	if exp.Qualified != nil && pr.Qualified != *exp.Qualified {
		errs = append(errs, fmt.Sprintf("participant %s: qualified expected %t, got %t", id, *exp.Qualified, pr.Qualified))
	}
	if exp.AppliedRules != nil && !slices.Equal(exp.AppliedRules, pr.AppliedRules) {
		errs = append(errs, fmt.Sprintf("participant %s: applied_rules expected %v, got %v", id, exp.AppliedRules, pr.AppliedRules))
	}
	if exp.ExcludedRules != nil && !slices.Equal(exp.ExcludedRules, pr.ExcludedRules) {
		errs = append(errs, fmt.Sprintf("participant %s: excluded_rules expected %v, got %v", id, exp.ExcludedRules, pr.ExcludedRules))
	}
	for _, key := range sortedKeys(exp.Impacts) {
		want := exp.Impacts[key]
		found := false
		for _, adj := range pr.Adjustments {
			if adj.ID == key {
				found = true
				if !adj.Impact.Equal(want) {
					errs = append(errs, fmt.Sprintf("participant %s: impact %s expected %s, got %s", id, key, want, adj.Impact))
				}
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("participant %s: no impact recorded for %s", id, key))
		}
	}
	return errs
}
