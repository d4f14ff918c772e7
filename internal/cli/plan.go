package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewPlanCommand creates the plan command group.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage incentive plans in the plan store",
	}
	cmd.AddCommand(newPlanImportCommand(rootOpts))
	cmd.AddCommand(newPlanShowCommand(rootOpts))
	return cmd
}

func newPlanImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <plan-file>",
		Short: "Validate a plan file and save it to the plan store",
		Example: `  icm plan import plans/q1.yaml
  icm plan import plans/q1.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanImport(opts, args[0], cmd)
		},
	}
}

func runPlanImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	p, err := loadPlanFile(path)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.plans.SavePlan(ctx, p); err != nil {
		return WrapExitError(ExitCommandError, "failed to save plan", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]string{"id": p.ID, "store": describeStore(rt.plans)})
	}
	fmt.Fprintf(formatter.Writer, "✓ Saved plan %s (%s) to %s store\n", p.ID, p.Name, describeStore(rt.plans))
	return nil
}

func newPlanShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <plan-id>",
		Short:         "Print a plan from the plan store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			p, err := rt.plans.GetPlan(ctx, args[0])
			if err != nil {
				if notFound(err) {
					_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("plan %s not found", args[0]), nil)
					return NewExitError(ExitFailure, "plan not found")
				}
				return WrapExitError(ExitCommandError, "failed to read plan", err)
			}
			if formatter.JSON() {
				return formatter.Success(p)
			}
			return writeIndented(formatter, p)
		},
	}
}

// NewResultCommand creates the result command.
func NewResultCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "result <execution-id>",
		Short: "Print a saved production result",
		Long: `Print the result of a production execution from the plan store.

Simulate runs are never saved; use the log command to inspect them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			res, err := rt.plans.ExecutionResult(ctx, args[0])
			if err != nil {
				if notFound(err) {
					_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no saved result for execution %s", args[0]), nil)
					return NewExitError(ExitFailure, "execution result not found")
				}
				return WrapExitError(ExitCommandError, "failed to read execution result", err)
			}
			if formatter.JSON() {
				return formatter.Success(res)
			}
			writeExecutionText(formatter.Writer, res)
			return nil
		},
	}
}

func writeIndented(f *OutputFormatter, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(f.Writer, string(data))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
