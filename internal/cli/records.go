package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/icm/internal/source"
)

// RecordsImport is the outcome of a records import.
type RecordsImport struct {
	Imported map[source.Type]int `json:"imported"`
	Total    int                 `json:"total"`
}

// NewRecordsCommand creates the records command group.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage transactions in the local database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <records-file>",
		Short: "Load transaction records into the local database",
		Long: `Load transaction records into the local database so runs can read
them without an external source. Records with an existing id are replaced.

The file maps source types (Invoices, SalesOrders, Contracts) to lists of
records, in YAML or JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsImport(rootOpts, args[0], cmd)
		},
	})
	return cmd
}

func runRecordsImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	file, err := source.LoadRecordsFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load records", err)
	}

	ctx := commandContext(cmd)
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	types := make([]source.Type, 0, len(file))
	for t := range file {
		types = append(types, t)
	}
	slices.Sort(types)

	out := RecordsImport{Imported: make(map[source.Type]int, len(types))}
	for _, t := range types {
		n, err := rt.db.ImportRecords(ctx, t, file[t])
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to import %s", t), err)
		}
		out.Imported[t] = n
		out.Total += n
		formatter.VerboseLog("Imported %d %s record(s)", n, t)
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	for _, t := range types {
		fmt.Fprintf(formatter.Writer, "✓ %s: %d record(s)\n", t, out.Imported[t])
	}
	fmt.Fprintf(formatter.Writer, "Imported %d record(s)\n", out.Total)
	return nil
}
