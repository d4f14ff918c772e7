package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/icm/internal/execlog"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Participant string
	Level       string
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log <execution-id>",
		Short: "Show the audit log of an execution",
		Long: `Show the audit log of a finished execution.

Logs are read from the configured archive: Redis when an address is
configured, otherwise the local database.

Examples:
  icm log 01928f7a-3c2e-7b1a-9f00-4a5b6c7d8e9f
  icm log 01928f7a-3c2e-7b1a-9f00-4a5b6c7d8e9f --participant alice
  icm log 01928f7a-3c2e-7b1a-9f00-4a5b6c7d8e9f --level ERROR --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Participant, "participant", "", "only entries for this participant")
	cmd.Flags().StringVar(&opts.Level, "level", "", "only entries at this level (DEBUG|INFO|WARNING|ERROR)")

	return cmd
}

func runLog(opts *LogOptions, executionID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	l, err := rt.logStore().Lookup(ctx, executionID)
	if err != nil {
		if notFound(err) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no log for execution %s", executionID), nil)
			return NewExitError(ExitFailure, "execution log not found")
		}
		return WrapExitError(ExitCommandError, "failed to read execution log", err)
	}

	l.Entries = filterEntries(l.Entries, opts.Participant, execlog.Level(opts.Level))
	if formatter.JSON() {
		return formatter.Success(l)
	}
	writeLogText(formatter.Writer, l)
	return nil
}

func filterEntries(entries []execlog.Entry, participant string, level execlog.Level) []execlog.Entry {
	if participant == "" && level == "" {
		return entries
	}
	out := make([]execlog.Entry, 0, len(entries))
	for _, e := range entries {
		if participant != "" && e.ParticipantID != participant {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}

func writeLogText(w io.Writer, l *execlog.Log) {
	fmt.Fprintf(w, "Execution %s (plan %s, %s): %s\n", l.ExecutionID, l.PlanID, l.Mode, l.Status)
	for _, e := range l.Entries {
		who := ""
		if e.ParticipantID != "" {
			who = " [" + e.ParticipantID + "]"
		}
		fmt.Fprintf(w, "%s %-7s %s%s: %s\n",
			e.Timestamp.UTC().Format("15:04:05.000"), e.Level, e.Category, who, e.Message)
	}
	fmt.Fprintf(w, "%d entries (%d info, %d warnings, %d errors)\n",
		l.Summary.Total, l.Summary.Info, l.Summary.Warnings, l.Summary.Errors)
}
