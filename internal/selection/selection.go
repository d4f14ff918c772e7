// Package selection fetches the transaction records a plan is computed
// from and filters them by the plan's qualifying criteria.
package selection

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/record"
	"github.com/roach88/icm/internal/source"
)

// SourceError wraps a failure of the transaction source. It is fatal for
// the execution.
type SourceError struct {
	Type source.Type
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Type, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Selector implements data selection.
type Selector struct {
	client source.Client
	logs   *execlog.Store
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithNow sets the time source for fetch metadata.
func WithNow(now func() time.Time) Option {
	return func(s *Selector) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) {
		s.logger = l
	}
}

// New creates a Selector reading from client and writing audit entries to
// logs. logs may be nil.
func New(client source.Client, logs *execlog.Store, opts ...Option) *Selector {
	s := &Selector{
		client: client,
		logs:   logs,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourceType maps a revenue base to a transaction type. Unknown values
// fall back to sales orders and report false.
func SourceType(base plan.RevenueBase) (source.Type, bool) {
	switch base {
	case plan.RevenueSalesOrders:
		return source.SalesOrders, true
	case plan.RevenueInvoices:
		return source.Invoices, true
	case plan.RevenuePaidInvoices:
		return source.PaidInvoices, true
	}
	return source.SalesOrders, false
}

// SelectPrimaryData fetches the records for the plan's revenue base over
// the requested period. Source failures, including deadline expiry, are
// returned as *SourceError and are not retried here.
func (s *Selector) SelectPrimaryData(ctx context.Context, p plan.IncentivePlan, params commission.ExecutionParams, executionID string) (commission.SelectedData, error) {
	rec := s.logs.Recorder(executionID)

	typ, known := SourceType(p.RevenueBase)
	if !known {
		rec.Warn(execlog.CategoryDataSelection,
			fmt.Sprintf("Unknown revenue base %q, falling back to %s", p.RevenueBase, source.SalesOrders),
			map[string]any{"revenueBase": string(p.RevenueBase)})
		s.logger.Warn("unknown revenue base",
			zap.String("plan_id", p.ID),
			zap.String("revenue_base", string(p.RevenueBase)))
	}

	q := source.Query{
		Type:         typ,
		From:         params.PeriodStart,
		To:           params.PeriodEnd,
		Participants: params.Participants,
		SalesOrgs:    params.SalesOrgs,
		RecordID:     params.RecordID,
	}

	records, err := s.client.Fetch(ctx, q)
	if err != nil {
		return commission.SelectedData{}, &SourceError{Type: typ, Err: err}
	}
	if records == nil {
		records = []record.Record{}
	}

	fetchedAt := s.now()
	rec.Info(execlog.CategoryDataSelection,
		fmt.Sprintf("Selected %d %s records", len(records), typ),
		map[string]any{
			"sourceType":  string(typ),
			"recordCount": len(records),
			"periodStart": params.PeriodStart.Format(time.DateOnly),
			"periodEnd":   params.PeriodEnd.Format(time.DateOnly),
		})

	return commission.SelectedData{
		Records:    records,
		SourceType: typ,
		Fields:     commission.ResolveFields(typ, p.Fields),
		Metadata: commission.SelectionMetadata{
			RecordCount: len(records),
			FetchedAt:   fetchedAt,
			Query:       q,
		},
	}, nil
}

// ApplyQualifyingCriteria keeps the records that satisfy every primary
// metric of the plan. A missing field fails its condition and is reported
// as a warning. Applying the same criteria twice yields the same records.
func (s *Selector) ApplyQualifyingCriteria(data commission.SelectedData, p plan.IncentivePlan, executionID string) commission.SelectedData {
	rec := s.logs.Recorder(executionID)
	metrics := p.Measurement.PrimaryMetrics

	out := data
	out.Records = make([]record.Record, 0, len(data.Records))

	idField := data.SourceType.Schema().ID
	for i, r := range data.Records {
		ref := recordRef(r, idField, i)
		passed := true
		for _, cond := range metrics {
			outcome := cond.Evaluate(r)
			switch outcome {
			case record.MissingField:
				rec.Warn(execlog.CategoryQualifyingCriteria,
					fmt.Sprintf("Record %s has no field %q", ref, cond.Field),
					map[string]any{"record": ref, "criterion": cond.String()})
			case record.Matched:
				if rec.Enabled() {
					rec.Debug(execlog.CategoryQualifyingCriteria,
						fmt.Sprintf("Record %s passed %s", ref, cond),
						map[string]any{"record": ref, "criterion": cond.String(), "outcome": outcome.String()})
				}
			default:
				if rec.Enabled() {
					rec.Debug(execlog.CategoryQualifyingCriteria,
						fmt.Sprintf("Record %s failed %s", ref, cond),
						map[string]any{"record": ref, "criterion": cond.String(), "outcome": outcome.String()})
				}
			}
			if outcome != record.Matched {
				passed = false
				break
			}
		}
		if passed {
			out.Records = append(out.Records, r)
		}
	}

	qualified := len(out.Records)
	out.Metadata.Qualified = &qualified

	pct := decimal.Zero
	if total := len(data.Records); total > 0 {
		pct = decimal.NewFromInt(int64(qualified)).
			Div(decimal.NewFromInt(int64(total))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	rec.Info(execlog.CategoryQualifyingCriteria,
		fmt.Sprintf("%d of %d records qualified (%s%%)", qualified, len(data.Records), pct.StringFixed(2)),
		map[string]any{
			"qualified":  qualified,
			"total":      len(data.Records),
			"percentage": pct.StringFixed(2),
			"criteria":   len(metrics),
		})
	return out
}

func recordRef(r record.Record, idField string, index int) string {
	if id, ok := r.String(idField); ok && id != "" {
		return id
	}
	return fmt.Sprintf("#%d", index+1)
}
