package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/icm/internal/plan"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Plans  int               `json:"plans"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a plan file.
type ValidationIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file>...",
		Short: "Validate plan files without executing them",
		Long: `Validate incentive plan files without executing them.

Checks that each file parses (YAML, JSON or CUE), that required fields are
present and that every condition uses a supported operator. Business
consistency such as overlapping tiers is not checked.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var issues []ValidationIssue
	for _, file := range files {
		formatter.VerboseLog("Validating plan: %s", file)
		issues = append(issues, validatePlanFile(file)...)
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}
	return outputValidateSuccess(formatter, len(files))
}

// validatePlanFile returns every problem found in one file.
func validatePlanFile(path string) []ValidationIssue {
	_, err := plan.LoadFile(path)
	if err == nil {
		return nil
	}

	var verr *plan.ValidationError
	if !errors.As(err, &verr) {
		return []ValidationIssue{{File: path, Code: ErrCodeGeneric, Message: err.Error()}}
	}
	issues := make([]ValidationIssue, 0, len(verr.Fields))
	for _, field := range verr.Fields {
		issues = append(issues, ValidationIssue{File: path, Code: ErrCodeInvalidPlan, Message: field})
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, plans int) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Plans: plans})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d plan(s) valid\n", plans)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.JSON() {
		err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	file := ""
	for _, issue := range issues {
		if issue.File != file {
			file = issue.File
			fmt.Fprintln(formatter.Writer, file)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
	}

	return failure
}
