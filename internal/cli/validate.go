package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/config"
	"github.com/verlyn13/fabricctl/internal/schema"
	"github.com/verlyn13/fabricctl/internal/store"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigPath string
}

// ValidationFailure is one artifact's schema violations.
type ValidationFailure struct {
	Artifact string              `json:"artifact"`
	Errors   []schema.FieldError `json:"errors"`
}

// ValidationReport is the validate command's payload.
type ValidationReport struct {
	Project   string              `json:"project"`
	Validated int                 `json:"validated"`
	Malformed int                 `json:"malformed"`
	Failures  []ValidationFailure `json:"failures,omitempty"`
	Valid     bool                `json:"valid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <project>",
		Short: "Validate rendered artifacts against their schemas",
		Long: `Validate the project's rendered artifacts against the published JSON
Schemas, reporting every field-level violation. Exit code 0 when all
artifacts pass (or none were found), 1 otherwise.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to fabricctl config file")

	return cmd
}

func runValidate(opts *ValidateOptions, project string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = formatter.Error("CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading config", err)
	}

	st := store.New(cfg.OutDir)
	load, err := st.Load(project)
	if err != nil {
		_ = formatter.Error(storeErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "loading artifacts", err)
	}

	gate, err := schema.NewGate()
	if err != nil {
		_ = formatter.Error("SCHEMA_GATE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "building schema gate", err)
	}

	report := ValidationReport{
		Project:   project,
		Validated: load.Set.Len(),
		Malformed: len(load.Malformed),
	}

	for _, a := range load.Set.All() {
		errs, err := gate.Validate(a)
		if err != nil {
			_ = formatter.Error("SCHEMA_GATE", err.Error(), nil)
			return WrapExitError(ExitFailure, "validating "+a.Ref().String(), err)
		}
		if len(errs) > 0 {
			report.Failures = append(report.Failures, ValidationFailure{
				Artifact: a.Ref().String(),
				Errors:   errs,
			})
		}
	}
	for _, bad := range load.Malformed {
		report.Failures = append(report.Failures, ValidationFailure{
			Artifact: bad.File,
			Errors:   []schema.FieldError{{Message: bad.Err.Error()}},
		})
	}
	report.Valid = len(report.Failures) == 0

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printValidationReport(formatter, &report)
	}

	if !report.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d artifact(s) failed validation", len(report.Failures)))
	}
	return nil
}

func printValidationReport(formatter *OutputFormatter, report *ValidationReport) {
	w := formatter.Writer
	if report.Validated == 0 && report.Malformed == 0 {
		fmt.Fprintf(w, "⚠ No artifacts found for %s\n", report.Project)
		return
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "✗ %s\n", f.Artifact)
		for _, fe := range f.Errors {
			fmt.Fprintf(w, "   - %s\n", fe)
		}
	}
	if report.Valid {
		fmt.Fprintf(w, "✓ All %d artifact(s) passed schema validation\n", report.Validated)
	} else {
		fmt.Fprintf(w, "✗ Schema validation failed (%d of %d)\n", len(report.Failures), report.Validated+report.Malformed)
	}
}
