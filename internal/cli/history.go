package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/config"
	"github.com/verlyn13/fabricctl/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	ConfigPath string
	Limit      int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history <project>",
		Short:         "List recorded reconciliation runs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to fabricctl config file")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list")

	return cmd
}

func runHistory(opts *HistoryOptions, project string, cmd *cobra.Command) error {
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
	if cfg.HistoryDB == "" {
		_ = formatter.Error("HISTORY", "no history_db configured", nil)
		return NewExitError(ExitCommandError, "no history_db configured")
	}

	log, err := history.Open(cfg.HistoryDB)
	if err != nil {
		_ = formatter.Error("HISTORY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening history database", err)
	}
	defer log.Close()

	runs, err := log.Runs(cmd.Context(), project, opts.Limit)
	if err != nil {
		_ = formatter.Error("HISTORY", err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading history", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintf(formatter.Writer, "No recorded runs for %s\n", project)
		return nil
	}
	for _, r := range runs {
		status := "✓"
		if !r.OK {
			status = "✗"
		}
		mode := ""
		if r.DryRun {
			mode = " (dry-run)"
		}
		fmt.Fprintf(formatter.Writer, "%s %s  %s  %s%s  %s\n", status, r.StartedAt, r.Target, r.Project, mode, r.ID)
	}
	return nil
}
