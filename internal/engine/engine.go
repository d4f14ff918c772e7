package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/metrics"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/rules"
	"github.com/roach88/icm/internal/selection"
	"github.com/roach88/icm/internal/source"
	"github.com/roach88/icm/internal/tier"
)

const tracerName = "github.com/roach88/icm/internal/engine"

// DefaultSourceTimeout bounds one transaction source call.
const DefaultSourceTimeout = 30 * time.Second

// PlanStore reads plans and records production results.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (plan.IncentivePlan, error)
	SaveExecutionResult(ctx context.Context, res commission.Result) error
	MarkPlanExecuted(ctx context.Context, planID string, at time.Time) error
}

// Publisher announces persisted production results.
type Publisher interface {
	PublishExecutionCompleted(ctx context.Context, res commission.Result) error
}

// Engine runs commission executions. It is safe for concurrent use; each
// execution gets its own id and log.
type Engine struct {
	logs       *execlog.Store
	selector   *selection.Selector
	processor  *rules.Processor
	calculator *tier.Calculator

	plans     PlanStore
	publisher Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	clock     Clock
	ids       IDGenerator

	sourceTimeout time.Duration
	parallelism   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlanStore sets the store used by ExecuteByID and production writes.
func WithPlanStore(s PlanStore) Option {
	return func(e *Engine) {
		e.plans = s
	}
}

// WithPublisher publishes an event after every persisted production run.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithMetrics records execution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracerProvider sets the provider for stage spans. Default: the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the operational logger. The audit trail goes to the
// execution log regardless.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the execution id generator. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithSourceTimeout bounds each transaction source call. Zero or negative
// disables the bound.
func WithSourceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.sourceTimeout = d
	}
}

// WithParallelism bounds how many participants are processed at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// New creates an Engine reading transactions from src. logs holds the
// execution logs; nil creates a private store.
func New(src source.Client, logs *execlog.Store, opts ...Option) *Engine {
	e := &Engine{
		logs:          logs,
		tracer:        otel.GetTracerProvider().Tracer(tracerName),
		logger:        zap.NewNop(),
		clock:         SystemClock{},
		ids:           UUIDv7Generator{},
		sourceTimeout: DefaultSourceTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logs == nil {
		e.logs = execlog.NewStore(execlog.WithNow(e.clock.Now), execlog.WithLogger(e.logger))
	}

	e.selector = selection.New(src, e.logs,
		selection.WithNow(e.clock.Now),
		selection.WithLogger(e.logger))
	ruleOpts := []rules.Option{rules.WithLogger(e.logger)}
	if e.parallelism > 0 {
		ruleOpts = append(ruleOpts, rules.WithParallelism(e.parallelism))
	}
	e.processor = rules.New(e.logs, ruleOpts...)
	e.calculator = tier.New(e.logs)
	return e
}

// Logs returns the execution log store.
func (e *Engine) Logs() *execlog.Store {
	return e.logs
}

// ExecutionLog returns the log of an execution, from memory or the
// archive.
func (e *Engine) ExecutionLog(ctx context.Context, executionID string) (*execlog.Log, error) {
	return e.logs.Lookup(ctx, executionID)
}

// Execute runs p for params. params.PlanID is ignored in favor of p.ID.
func (e *Engine) Execute(ctx context.Context, p plan.IncentivePlan, params commission.ExecutionParams) commission.Result {
	return e.execute(ctx, p.ID, params, func(context.Context) (plan.IncentivePlan, error) {
		return p, nil
	})
}

// ExecuteByID reads the plan from the plan store and runs it.
func (e *Engine) ExecuteByID(ctx context.Context, planID string, params commission.ExecutionParams) commission.Result {
	return e.execute(ctx, planID, params, func(ctx context.Context) (plan.IncentivePlan, error) {
		if e.plans == nil {
			return plan.IncentivePlan{}, errors.New("no plan store configured")
		}
		return e.plans.GetPlan(ctx, planID)
	})
}

type planLoader func(ctx context.Context) (plan.IncentivePlan, error)

// outcome is what the stages produce before persistence.
type outcome struct {
	plan         plan.IncentivePlan
	participants []*commission.ParticipantResult
}

func (e *Engine) execute(ctx context.Context, planID string, params commission.ExecutionParams, load planLoader) commission.Result {
	started := e.clock.Now()
	executionID := e.ids.Generate()

	ctx, span := e.tracer.Start(ctx, "commission.execute", trace.WithAttributes(
		attribute.String("icm.execution_id", executionID),
		attribute.String("icm.plan_id", planID),
		attribute.String("icm.mode", string(params.Mode)),
	))
	defer span.End()

	res := commission.Result{
		ExecutionID:        executionID,
		PlanID:             planID,
		Mode:               params.Mode,
		Period:             commission.Period{Start: params.PeriodStart, End: params.PeriodEnd},
		Timestamp:          started,
		TotalCommission:    decimal.Zero,
		ParticipantResults: []commission.ParticipantResult{},
	}
	log := e.logger.With(zap.String("execution_id", executionID), zap.String("plan_id", planID))

	if err := e.logs.Start(executionID, planID, string(params.Mode)); err != nil {
		log.Error("open execution log", zap.Error(err))
		res.Status = commission.StatusFailed
		res.Error = err.Error()
		e.finishSpan(span, res)
		e.metrics.ObserveExecution(res, e.clock.Now().Sub(started))
		return res
	}
	rec := e.logs.Recorder(executionID)
	rec.Info(execlog.CategoryExecution,
		fmt.Sprintf("Starting %s execution of plan %s", params.Mode, planID),
		map[string]any{
			"periodStart": params.PeriodStart.Format(time.DateOnly),
			"periodEnd":   params.PeriodEnd.Format(time.DateOnly),
		})
	if err := e.logs.SetStatus(executionID, execlog.StatusInProgress); err != nil {
		log.Warn("mark execution in progress", zap.Error(err))
	}

	out, err := e.run(ctx, executionID, params, load)
	if err == nil {
		e.complete(&res, out)
		rec.Info(execlog.CategoryExecution,
			fmt.Sprintf("Execution completed: %d participants, total commission %s %s",
				len(res.ParticipantResults), res.TotalCommission, res.Currency),
			map[string]any{
				"participants":    len(res.ParticipantResults),
				"totalCommission": res.TotalCommission.String(),
			})
		e.attachLogs(&res)
		if res.Digest, err = commission.ComputeDigest(res); err != nil {
			log.Warn("compute result digest", zap.Error(err))
			err = nil
		}
		if params.Mode == commission.Production {
			err = e.persist(ctx, &res)
		}
	}
	if err != nil {
		e.fail(&res, executionID, err)
	}

	status := execlog.StatusCompleted
	if res.Failed() {
		status = execlog.StatusFailed
	}
	final, ferr := e.logs.Finish(ctx, executionID, status)
	if ferr != nil {
		log.Warn("finish execution log", zap.Error(ferr))
	}
	if final != nil {
		res.LogSummary = final.Summary
		for i := range res.ParticipantResults {
			res.ParticipantResults[i].Logs = final.ForParticipant(res.ParticipantResults[i].ParticipantID)
		}
	}

	if res.Mode == commission.Production && !res.Failed() && e.publisher != nil {
		if perr := e.publisher.PublishExecutionCompleted(ctx, res); perr != nil {
			e.metrics.PublishFailed()
			log.Error("publish execution completed", zap.Error(perr))
		}
	}

	elapsed := e.clock.Now().Sub(started)
	e.metrics.ObserveExecution(res, elapsed)
	e.finishSpan(span, res)
	log.Info("execution finished",
		zap.String("status", string(res.Status)),
		zap.String("mode", string(res.Mode)),
		zap.Int("participants", len(res.ParticipantResults)),
		zap.String("total_commission", res.TotalCommission.String()),
		zap.Duration("elapsed", elapsed))
	return res
}

// run executes the stages. Panics in this goroutine become PANIC errors.
func (e *Engine) run(ctx context.Context, executionID string, params commission.ExecutionParams, load planLoader) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execution panicked",
				zap.String("execution_id", executionID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = &ExecutionError{
				Code:        ErrCodePanic,
				Message:     fmt.Sprintf("unexpected failure: %v", r),
				ExecutionID: executionID,
			}
		}
	}()

	if err := params.Validate(); err != nil {
		return out, &ExecutionError{Code: ErrCodeInvalidParams, Message: "invalid execution parameters", ExecutionID: executionID, Err: err}
	}

	p, err := load(ctx)
	if err != nil {
		code := ErrCodePlanStoreFailure
		if errors.Is(err, plan.ErrNotFound) {
			code = ErrCodePlanNotFound
		}
		return out, &ExecutionError{Code: code, Message: "load plan", ExecutionID: executionID, PlanID: params.PlanID, Err: err}
	}
	p = plan.Normalize(p)
	out.plan = p

	selected, err := e.selectData(ctx, p, params, executionID)
	if err != nil {
		return out, err
	}
	e.metrics.ObserveRecords(len(selected.Records))

	_, span := e.tracer.Start(ctx, "commission.qualify")
	qualified := e.selector.ApplyQualifyingCriteria(selected, p, executionID)
	span.SetAttributes(attribute.Int("icm.records.qualified", len(qualified.Records)))
	span.End()

	pctx, span := e.tracer.Start(ctx, "commission.process")
	processed, err := e.processor.ProcessData(pctx, qualified, p, executionID)
	span.End()
	if err != nil {
		return out, e.stageError(ctx, executionID, p.ID, "process participants", err)
	}

	cctx, span := e.tracer.Start(ctx, "commission.calculate")
	err = e.calculate(cctx, processed.Participants, p, executionID)
	span.End()
	if err != nil {
		return out, e.stageError(ctx, executionID, p.ID, "calculate commissions", err)
	}

	out.participants = processed.Participants
	return out, nil
}

func (e *Engine) selectData(ctx context.Context, p plan.IncentivePlan, params commission.ExecutionParams, executionID string) (commission.SelectedData, error) {
	sctx, span := e.tracer.Start(ctx, "commission.select", trace.WithAttributes(
		attribute.String("icm.revenue_base", string(p.RevenueBase)),
	))
	defer span.End()

	if e.sourceTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, e.sourceTimeout)
		defer cancel()
	}

	data, err := e.selector.SelectPrimaryData(sctx, p, params, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "data selection failed")
		if ctx.Err() != nil {
			return data, &ExecutionError{Code: ErrCodeCanceled, Message: "execution canceled during data selection", ExecutionID: executionID, PlanID: p.ID, Err: err}
		}
		msg := "transaction source failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("transaction source timed out after %s", e.sourceTimeout)
		}
		return data, &ExecutionError{Code: ErrCodeDataSourceFailure, Message: msg, ExecutionID: executionID, PlanID: p.ID, Err: err}
	}
	span.SetAttributes(attribute.Int("icm.records.selected", len(data.Records)))
	return data, nil
}

// calculate applies the commission structure to every participant with
// bounded parallelism. Each participant is touched by one goroutine only.
func (e *Engine) calculate(ctx context.Context, participants []*commission.ParticipantResult, p plan.IncentivePlan, executionID string) error {
	g, gctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for _, pr := range participants {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("participant %s: panic: %v", pr.ParticipantID, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			e.calculator.ApplyCommissionStructure(pr, p, executionID)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) stageError(ctx context.Context, executionID, planID, stage string, err error) error {
	code := ErrCodePanic
	if ctx.Err() != nil {
		code = ErrCodeCanceled
	}
	return &ExecutionError{Code: code, Message: stage, ExecutionID: executionID, PlanID: planID, Err: err}
}

// complete fills the result from a successful run.
func (e *Engine) complete(res *commission.Result, out outcome) {
	res.Status = commission.StatusCompleted
	res.PlanID = out.plan.ID
	res.PlanName = out.plan.Name
	res.Currency = out.plan.Currency

	total := decimal.Zero
	res.ParticipantResults = make([]commission.ParticipantResult, 0, len(out.participants))
	for _, pr := range out.participants {
		total = total.Add(pr.Commission)
		res.ParticipantResults = append(res.ParticipantResults, *pr)
	}
	res.TotalCommission = total
}

// attachLogs copies the current log state into res: summary plus each
// participant's entries.
func (e *Engine) attachLogs(res *commission.Result) {
	snapshot, ok := e.logs.Get(res.ExecutionID)
	if !ok {
		return
	}
	res.LogSummary = snapshot.Summary
	for i := range res.ParticipantResults {
		res.ParticipantResults[i].Logs = snapshot.ForParticipant(res.ParticipantResults[i].ParticipantID)
	}
}

// persist saves a production result once and marks the plan executed.
// The saved copy keeps the log summary taken before these entries.
func (e *Engine) persist(ctx context.Context, res *commission.Result) error {
	ctx, span := e.tracer.Start(ctx, "commission.persist")
	defer span.End()

	rec := e.logs.Recorder(res.ExecutionID)
	if e.plans == nil {
		return &ExecutionError{Code: ErrCodePersistenceFailure, Message: "no plan store configured for production mode", ExecutionID: res.ExecutionID, PlanID: res.PlanID}
	}
	if err := e.plans.SaveExecutionResult(ctx, *res); err != nil {
		span.RecordError(err)
		return &ExecutionError{Code: ErrCodePersistenceFailure, Message: "save execution result", ExecutionID: res.ExecutionID, PlanID: res.PlanID, Err: err}
	}
	rec.Info(execlog.CategoryPersistence, "Saved execution result", map[string]any{"digest": res.Digest})

	if err := e.plans.MarkPlanExecuted(ctx, res.PlanID, res.Timestamp); err != nil {
		span.RecordError(err)
		return &ExecutionError{Code: ErrCodePersistenceFailure, Message: "mark plan executed", ExecutionID: res.ExecutionID, PlanID: res.PlanID, Err: err}
	}
	rec.Info(execlog.CategoryPersistence, fmt.Sprintf("Marked plan %s executed", res.PlanID), nil)
	return nil
}

// fail turns res into a failed result and records the cause.
func (e *Engine) fail(res *commission.Result, executionID string, err error) {
	res.Status = commission.StatusFailed
	res.Error = err.Error()
	res.TotalCommission = decimal.Zero
	res.ParticipantResults = []commission.ParticipantResult{}
	res.Digest = ""

	details := map[string]any{"error": err.Error()}
	if code := CodeOf(err); code != "" {
		details["code"] = string(code)
	}
	e.logs.Recorder(executionID).Error(execlog.CategoryExecutionError,
		fmt.Sprintf("Execution failed: %v", err), details)
	e.logger.Warn("execution failed",
		zap.String("execution_id", executionID),
		zap.Error(err))
}

func (e *Engine) finishSpan(span trace.Span, res commission.Result) {
	span.SetAttributes(
		attribute.String("icm.status", string(res.Status)),
		attribute.Int("icm.participants", len(res.ParticipantResults)),
	)
	if res.Failed() {
		span.SetStatus(codes.Error, res.Error)
	}
}
