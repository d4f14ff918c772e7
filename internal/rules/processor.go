// Package rules turns qualified records into per-participant qualifying
// amounts.
//
// For every participant the pipeline runs in a fixed order:
//
//  1. group records by the participant field ("UNKNOWN" when absent)
//  2. remove records matched by an exclusion
//  3. apply measurement adjustments
//  4. apply active custom rules in plan order
//  5. sum the remaining amounts
//
// Exclusions always run before custom rules, so an excluded record is never
// boosted or capped. Participants are independent and are processed
// concurrently; each participant's pipeline is sequential.
package rules

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/record"
)

// UnknownParticipant groups records that carry no participant id.
const UnknownParticipant = "UNKNOWN"

// Processor implements the rule pipeline.
type Processor struct {
	logs        *execlog.Store
	parallelism int
	logger      *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithParallelism bounds how many participants are processed at once.
// Values below 1 mean GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(p *Processor) {
		p.parallelism = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

// New creates a Processor writing audit entries to logs. logs may be nil.
func New(logs *execlog.Store, opts ...Option) *Processor {
	p := &Processor{logs: logs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.parallelism < 1 {
		p.parallelism = runtime.GOMAXPROCS(0)
	}
	return p
}

// group holds one participant's records in selection order.
type group struct {
	participant string
	items       []item
}

// item is a record with the label used for it in every log entry. The
// label is fixed at grouping time so it names the same record in every
// stage.
type item struct {
	ref string
	rec record.Record
}

// ProcessData runs the pipeline for every participant in data. The result
// is sorted by participant id. Only context cancellation fails the call;
// per-record problems are logged and absorbed.
func (p *Processor) ProcessData(ctx context.Context, data commission.SelectedData, pl plan.IncentivePlan, executionID string) (commission.ProcessedData, error) {
	groups := groupRecords(data.Records, data.Fields.Participant, data.SourceType.Schema().ID)
	results := make([]*commission.ParticipantResult, len(groups))

	rec := p.logs.Recorder(executionID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, grp := range groups {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("participant %s: panic: %v", grp.participant, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			run := participantRun{
				plan:   pl,
				fields: data.Fields,
				rec:    rec.Participant(grp.participant),
				result: commission.NewParticipantResult(grp.participant),
			}
			run.process(grp.items)
			results[i] = run.result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return commission.ProcessedData{}, fmt.Errorf("process participants: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].ParticipantID < results[j].ParticipantID
	})

	p.logger.Debug("processed participants",
		zap.String("execution_id", executionID),
		zap.Int("participants", len(results)),
		zap.Int("records", len(data.Records)))

	return commission.ProcessedData{Participants: results, Fields: data.Fields}, nil
}

// groupRecords splits recs by participant. A record without an id in
// idField is labeled "<participant>#<n>", n counting from 1 within the
// participant's records.
func groupRecords(recs []record.Record, participantField, idField string) []group {
	index := make(map[string]int)
	var groups []group
	for _, r := range recs {
		id, ok := r.String(participantField)
		if !ok || id == "" {
			id = UnknownParticipant
		}
		i, seen := index[id]
		if !seen {
			i = len(groups)
			index[id] = i
			groups = append(groups, group{participant: id})
		}
		ref, ok := r.String(idField)
		if !ok || ref == "" {
			ref = fmt.Sprintf("%s#%d", id, len(groups[i].items)+1)
		}
		groups[i].items = append(groups[i].items, item{ref: ref, rec: r.Clone()})
	}
	return groups
}

// participantRun carries one participant through the pipeline. It is used
// by a single goroutine.
type participantRun struct {
	plan   plan.IncentivePlan
	fields commission.FieldMap
	rec    execlog.Recorder
	result *commission.ParticipantResult

	impactIndex map[string]int
	ruleApplied map[string]bool
}

func (r *participantRun) process(items []item) {
	r.impactIndex = make(map[string]int)
	r.ruleApplied = make(map[string]bool)

	items = r.applyExclusions(items)
	r.applyAdjustments(items)
	items = r.applyCustomRules(items)
	r.aggregate(items)
}

func (r *participantRun) amount(rec record.Record) decimal.Decimal {
	v, _ := rec.Number(r.fields.Amount)
	return v
}

// applyExclusions drops every record matched by any exclusion. Each
// matching exclusion is recorded once per participant.
func (r *participantRun) applyExclusions(items []item) []item {
	exclusions := r.plan.Measurement.Exclusions
	if len(exclusions) == 0 {
		return items
	}

	removedBy := make([]int, len(exclusions))
	kept := items[:0:0]
	for _, it := range items {
		excluded := false
		for j, ex := range exclusions {
			switch ex.Condition.Evaluate(it.rec) {
			case record.Matched:
				excluded = true
				removedBy[j]++
				r.rec.Debug(execlog.CategoryExclusions,
					fmt.Sprintf("Record %s excluded by %s", it.ref, ex.Label()),
					map[string]any{"record": it.ref, "exclusion": ex.ID, "condition": ex.Condition.String()})
			case record.MissingField:
				r.rec.Warn(execlog.CategoryExclusions,
					fmt.Sprintf("Record %s has no field %q for exclusion %s", it.ref, ex.Condition.Field, ex.Label()),
					map[string]any{"record": it.ref, "exclusion": ex.ID})
			}
			if excluded {
				break
			}
		}
		if excluded {
			r.result.ExcludedRecords++
			continue
		}
		kept = append(kept, it)
	}

	for j, ex := range exclusions {
		if removedBy[j] == 0 {
			continue
		}
		r.result.ExcludedRules = append(r.result.ExcludedRules, ex.Label())
		r.rec.Info(execlog.CategoryExclusions,
			fmt.Sprintf("Exclusion %q removed %d record(s)", ex.Label(), removedBy[j]),
			map[string]any{"exclusion": ex.ID, "description": ex.Label(), "records": removedBy[j]})
	}
	return kept
}

// applyAdjustments multiplies amounts by the factor of every matching
// adjustment.
func (r *participantRun) applyAdjustments(items []item) {
	for _, adj := range r.plan.Measurement.Adjustments {
		for i := range items {
			it := &items[i]
			if !adj.Condition.Matches(it.rec) {
				continue
			}
			before := r.amount(it.rec)
			after := before.Mul(adj.Multiplier())
			it.rec.Set(r.fields.Amount, after)

			desc := adj.Description
			if desc == "" {
				desc = adj.Condition.String()
			}
			r.addImpact(adj.ID, desc, after.Sub(before))
			r.rec.Info(execlog.CategoryAdjustment,
				fmt.Sprintf("Adjustment %s on %s: %s -> %s", adj.ID, it.ref, before, after),
				map[string]any{
					"adjustment": adj.ID,
					"record":     it.ref,
					"factor":     adj.Multiplier().String(),
					"before":     before.String(),
					"after":      after.String(),
				})
		}
	}
}

// applyCustomRules runs active rules in plan order against each record.
// Records disqualified by any rule are removed once all rules for that
// record have run.
func (r *participantRun) applyCustomRules(items []item) []item {
	active := make([]plan.CustomRule, 0, len(r.plan.CustomRules))
	for _, rule := range r.plan.CustomRules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	if len(active) == 0 {
		return items
	}

	kept := items[:0:0]
	for i := range items {
		disqualified := false
		for _, rule := range active {
			if !rule.Condition.Matches(items[i].rec) {
				continue
			}
			if r.apply(rule, &items[i]) {
				disqualified = true
			}
		}
		if disqualified {
			r.result.DisqualifiedRecords++
			continue
		}
		kept = append(kept, items[i])
	}

	if r.result.DisqualifiedRecords > 0 {
		r.rec.Info(execlog.CategoryDisqualification,
			fmt.Sprintf("%d record(s) disqualified by custom rules", r.result.DisqualifiedRecords),
			map[string]any{"disqualified": r.result.DisqualifiedRecords})
	}
	return kept
}

// apply performs one matched rule on rec. It reports whether the record is
// now marked for removal.
func (r *participantRun) apply(rule plan.CustomRule, it *item) bool {
	ref := it.ref
	rec := &it.rec
	r.markApplied(rule.Name)

	switch action := rule.Action.(type) {
	case plan.Qualify:
		r.rec.Info(execlog.CategoryCustomRule,
			fmt.Sprintf("Rule %q qualified record %s", rule.Name, ref),
			map[string]any{"rule": rule.Name, "action": string(action.Kind()), "record": ref})

	case plan.Disqualify:
		r.rec.Info(execlog.CategoryCustomRule,
			fmt.Sprintf("Rule %q disqualified record %s", rule.Name, ref),
			map[string]any{"rule": rule.Name, "action": string(action.Kind()), "record": ref})
		return true

	case plan.Boost:
		before := r.amount(*rec)
		after := before.Mul(action.Multiplier())
		rec.Set(r.fields.Amount, after)
		r.addImpact(rule.Name, rule.Name, after.Sub(before))
		r.rec.Info(execlog.CategoryBoost,
			fmt.Sprintf("Rule %q boosted record %s: %s -> %s", rule.Name, ref, before, after),
			map[string]any{
				"rule":   rule.Name,
				"record": ref,
				"factor": action.Multiplier().String(),
				"before": before.String(),
				"after":  after.String(),
			})

	case plan.Cap:
		before := r.amount(*rec)
		limit := action.Ceiling()
		if !before.GreaterThan(limit) {
			return false
		}
		rec.Set(r.fields.Amount, limit)
		r.addImpact(rule.Name, rule.Name, limit.Sub(before))
		r.rec.Info(execlog.CategoryCap,
			fmt.Sprintf("Rule %q capped record %s: %s -> %s", rule.Name, ref, before, limit),
			map[string]any{
				"rule":   rule.Name,
				"record": ref,
				"limit":  limit.String(),
				"before": before.String(),
			})

	default:
		r.rec.Warn(execlog.CategoryCustomRule,
			fmt.Sprintf("Rule %q has unsupported action %T", rule.Name, rule.Action),
			map[string]any{"rule": rule.Name})
	}
	return false
}

func (r *participantRun) markApplied(name string) {
	if r.ruleApplied[name] {
		return
	}
	r.ruleApplied[name] = true
	r.result.AppliedRules = append(r.result.AppliedRules, name)
}

// addImpact accumulates the monetary effect per adjustment or rule.
func (r *participantRun) addImpact(id, description string, delta decimal.Decimal) {
	if i, ok := r.impactIndex[id]; ok {
		r.result.Adjustments[i].Impact = r.result.Adjustments[i].Impact.Add(delta)
		return
	}
	r.impactIndex[id] = len(r.result.Adjustments)
	r.result.Adjustments = append(r.result.Adjustments, commission.AdjustmentImpact{
		ID:          id,
		Description: description,
		Impact:      delta,
	})
}

func (r *participantRun) aggregate(items []item) {
	total := decimal.Zero
	for _, it := range items {
		v, ok := it.rec.Number(r.fields.Amount)
		if !ok {
			r.rec.Warn(execlog.CategoryAggregation,
				fmt.Sprintf("Record %s has no numeric %s, counted as 0", it.ref, r.fields.Amount),
				map[string]any{"record": it.ref, "field": r.fields.Amount})
			continue
		}
		total = total.Add(v)
	}

	r.result.QualifyingAmount = total
	r.result.QualifiedRecords = len(items)
	r.rec.Info(execlog.CategoryAggregation,
		fmt.Sprintf("Qualifying amount %s from %d record(s)", total, len(items)),
		map[string]any{
			"amount":       total.String(),
			"records":      len(items),
			"excluded":     r.result.ExcludedRecords,
			"disqualified": r.result.DisqualifiedRecords,
		})
}
