package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/engine"
	"github.com/roach88/icm/internal/metrics"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/record"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	PlanFile      string
	PlanID        string
	Records       string
	Mode          string
	From          string
	To            string
	ExecutionDate string
	Participants  []string
	SalesOrgs     []string
	RecordID      string
	MetricsFile   string

	// IDGenerator overrides the execution id generator (for testing).
	// If nil, the engine default (UUIDv7) is used.
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute an incentive plan for a period",
		Long: `Execute an incentive plan against the transactions of a period.

The plan comes from a file (--plan) or from the plan store (--plan-id).
Transactions come from a records file (--records), the configured HTTP
source, or the local database, in that order of preference.

Simulate runs never write anything. Production runs save the result and
mark the plan executed; a plan given by file is saved to the plan store
first.

Exit codes:
  0 - Execution completed
  1 - Execution failed
  2 - Command error (bad flags, unreachable stores, etc.)

Examples:
  icm run --plan q1.yaml --records q1-records.json --from 2024-01-01 --to 2024-03-31
  icm run --plan-id plan-q1 --mode Production --from 2024-01-01 --to 2024-03-31
  icm run --plan q1.yaml --participant alice --participant bob --from 2024-01-01 --to 2024-03-31`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecution(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PlanFile, "plan", "", "plan file (.yaml, .json or .cue)")
	cmd.Flags().StringVar(&opts.PlanID, "plan-id", "", "id of a plan in the plan store")
	cmd.Flags().StringVar(&opts.Records, "records", "", "records file to read transactions from")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(commission.Simulate), "execution mode (Simulate|Production)")
	cmd.Flags().StringVar(&opts.From, "from", "", "period start date (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "period end date (required)")
	cmd.Flags().StringVar(&opts.ExecutionDate, "date", "", "execution date (default: period end)")
	cmd.Flags().StringSliceVar(&opts.Participants, "participant", nil, "restrict to participants")
	cmd.Flags().StringSliceVar(&opts.SalesOrgs, "sales-org", nil, "restrict to sales organizations")
	cmd.Flags().StringVar(&opts.RecordID, "record", "", "restrict to one transaction record")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	cmd.MarkFlagsMutuallyExclusive("plan", "plan-id")
	cmd.MarkFlagsOneRequired("plan", "plan-id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// executionParams converts the flags into engine parameters.
func (o *RunOptions) executionParams() (commission.ExecutionParams, error) {
	params := commission.ExecutionParams{
		PlanID:       o.PlanID,
		Mode:         commission.Mode(o.Mode),
		Participants: o.Participants,
		SalesOrgs:    o.SalesOrgs,
		RecordID:     o.RecordID,
	}
	var ok bool
	if params.PeriodStart, ok = record.ParseTime(o.From); !ok {
		return params, NewExitError(ExitCommandError, fmt.Sprintf("invalid --from date %q", o.From))
	}
	if params.PeriodEnd, ok = record.ParseTime(o.To); !ok {
		return params, NewExitError(ExitCommandError, fmt.Sprintf("invalid --to date %q", o.To))
	}
	params.ExecutionDate = params.PeriodEnd
	if o.ExecutionDate != "" {
		if params.ExecutionDate, ok = record.ParseTime(o.ExecutionDate); !ok {
			return params, NewExitError(ExitCommandError, fmt.Sprintf("invalid --date %q", o.ExecutionDate))
		}
	}
	if err := params.Validate(); err != nil {
		return params, WrapExitError(ExitCommandError, "invalid execution parameters", err)
	}
	return params, nil
}

func runExecution(opts *RunOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	params, err := opts.executionParams()
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(context.Background()); closeErr != nil {
			rt.logger.Error("error closing runtime", zap.Error(closeErr))
		}
	}()

	var p plan.IncentivePlan
	if opts.PlanFile != "" {
		p, err = loadPlanFile(opts.PlanFile)
		if err != nil {
			return err
		}
		if params.Mode == commission.Production {
			if err := rt.plans.SavePlan(ctx, p); err != nil {
				return WrapExitError(ExitCommandError, "failed to save plan", err)
			}
			formatter.VerboseLog("Saved plan %s to %s store", p.ID, describeStore(rt.plans))
		}
	}

	src, err := rt.source(opts.Records)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	engineOpts := []engine.Option{
		engine.WithPlanStore(rt.plans),
		engine.WithMetrics(m),
		engine.WithLogger(rt.logger),
		engine.WithTracerProvider(rt.tracerProvider()),
		engine.WithSourceTimeout(rt.cfg.SourceTimeout),
		engine.WithParallelism(rt.cfg.Parallelism),
	}
	pub, err := rt.publisher()
	if err != nil {
		return err
	}
	if pub != nil {
		engineOpts = append(engineOpts, engine.WithPublisher(pub))
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(src, rt.logStore(), engineOpts...)

	rt.logger.Info("execution starting",
		zap.String("mode", string(params.Mode)),
		zap.Time("period_start", params.PeriodStart),
		zap.Time("period_end", params.PeriodEnd))
	started := time.Now()

	var res commission.Result
	if opts.PlanFile != "" {
		res = eng.Execute(ctx, p, params)
	} else {
		res = eng.ExecuteByID(ctx, opts.PlanID, params)
	}
	rt.logger.Info("execution finished",
		zap.String("execution_id", res.ExecutionID),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", time.Since(started)))

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			rt.logger.Warn("failed to write metrics", zap.String("path", opts.MetricsFile), zap.Error(err))
		}
	}

	return outputExecution(formatter, res)
}

// loadPlanFile reads a plan file. LoadFile validates as it decodes.
func loadPlanFile(path string) (plan.IncentivePlan, error) {
	p, err := plan.LoadFile(path)
	if err != nil {
		return plan.IncentivePlan{}, WrapExitError(ExitCommandError, "invalid plan file", err)
	}
	return p, nil
}

func outputExecution(f *OutputFormatter, res commission.Result) error {
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: res, ExecutionID: res.ExecutionID}
		if res.Failed() {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeExecutionFailed, Message: res.Error}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		writeExecutionText(f.Writer, res)
	}

	if res.Failed() {
		return NewExitError(ExitFailure, res.Error)
	}
	return nil
}

func writeExecutionText(w io.Writer, res commission.Result) {
	mark := "✓"
	if res.Failed() {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s %s (%s, %s)\n", mark, res.ExecutionID, res.Status, res.PlanID, res.Mode)
	if res.Failed() {
		fmt.Fprintf(w, "  %s\n", res.Error)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTICIPANT\tQUALIFYING\tRATE\tCOMMISSION\tQUALIFIED")
	for _, pr := range res.ParticipantResults {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s\t%t\n",
			pr.ParticipantID, pr.QualifyingAmount, pr.AppliedRate, pr.Commission, pr.Qualified)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Total: %s %s\n", res.TotalCommission, res.Currency)
	fmt.Fprintf(w, "Log: %d entries (%d warnings, %d errors)\n",
		res.LogSummary.Total, res.LogSummary.Warnings, res.LogSummary.Errors)
}
