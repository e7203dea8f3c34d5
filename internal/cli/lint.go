package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/naming"
)

// LintReport is the lint command's payload.
type LintReport struct {
	Violations []string `json:"violations"`
	Valid      bool     `json:"valid"`
}

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lint <dir>",
		Short:         "Check resource naming conventions in static files",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runLint(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	violations, err := naming.LintDir(dir)
	if err != nil {
		_ = formatter.Error("LINT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "scanning directory", err)
	}

	report := LintReport{Valid: len(violations) == 0}
	for _, v := range violations {
		report.Violations = append(report.Violations, v.String())
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else if report.Valid {
		fmt.Fprintln(formatter.Writer, "✓ All resource names follow the convention")
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Naming validation failed:")
		for _, v := range report.Violations {
			fmt.Fprintf(formatter.Writer, "  - %s\n", v)
		}
	}

	if !report.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d naming violation(s)", len(violations)))
	}
	return nil
}
