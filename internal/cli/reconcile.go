package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/config"
	"github.com/verlyn13/fabricctl/internal/history"
	"github.com/verlyn13/fabricctl/internal/platform/infisical"
	"github.com/verlyn13/fabricctl/internal/reconcile"
	"github.com/verlyn13/fabricctl/internal/schema"
	"github.com/verlyn13/fabricctl/internal/store"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	DryRun     bool
	ConfigPath string
	NoGate     bool

	// Engine allows tests to substitute a pre-built engine.
	Engine *reconcile.Engine
}

// ReconcileSummary is the reconcile command's payload.
type ReconcileSummary struct {
	Project string   `json:"project"`
	RunID   string   `json:"run_id"`
	DryRun  bool     `json:"dry_run"`
	Applied []string `json:"applied"`
	Failed  []string `json:"failed"`
	OK      bool     `json:"ok"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile <project>",
		Short: "Apply rendered identity-fabric artifacts",
		Long: `Reconcile the project's rendered artifacts against the identity platform.

Artifacts are applied in fixed stage order (Roles, Identities, Bindings)
with per-resource failure isolation: every problem is surfaced in one
pass. Exit code 0 on full success, 1 if any resource failed or the
artifact directory is missing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate and preview without applying")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to fabricctl config file")
	cmd.Flags().BoolVar(&opts.NoGate, "no-gate", false, "skip the pre-apply schema gate")

	return cmd
}

func runReconcile(opts *ReconcileOptions, project string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Loaded %d artifact(s) from %s", load.Set.Len(), st.ProjectDir(project))

	if !opts.NoGate {
		if err := runSchemaGate(formatter, load); err != nil {
			return err
		}
	}

	engine := opts.Engine
	sink := &reconcile.RecordingSink{}
	if engine == nil {
		client := infisical.NewClient(
			infisical.WithBinary(cfg.Infisical.Binary),
			infisical.WithConfig(cfg.Infisical.ConfigPath),
		)
		engineOpts := []reconcile.Option{
			reconcile.WithSink(sink),
			reconcile.WithCallTimeout(time.Duration(cfg.CallTimeoutSeconds) * time.Second),
			reconcile.WithParallelism(cfg.Parallelism),
		}
		if cfg.FailFast {
			engineOpts = append(engineOpts, reconcile.WithFailFast())
		}
		engine = reconcile.New(project, client, engineOpts...)
	}

	mode := reconcile.ModeApply
	if opts.DryRun {
		mode = reconcile.ModeDryRun
		formatter.VerboseLog("Dry-run mode: no changes will be applied")
	}

	result := engine.Reconcile(cmd.Context(), load, mode)

	if cfg.HistoryDB != "" {
		if err := recordFabricRun(cmd, cfg.HistoryDB, result, sink.Events); err != nil {
			formatter.VerboseLog("history not recorded: %v", err)
		}
	}

	summary := ReconcileSummary{
		Project: project,
		RunID:   result.RunID,
		DryRun:  result.DryRun,
		Applied: refStrings(result.Applied),
		Failed:  refStrings(result.Failed),
		OK:      result.OK(),
	}

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		printReconcileSummary(formatter, result, sink.Events)
	}

	if !result.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d resource(s) failed", len(result.Failed)))
	}
	return nil
}

// runSchemaGate validates every loaded artifact and aborts before any
// stage when a violation is found.
func runSchemaGate(formatter *OutputFormatter, load *store.LoadResult) error {
	gate, err := schema.NewGate()
	if err != nil {
		_ = formatter.Error("SCHEMA_GATE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "building schema gate", err)
	}
	failures, err := gate.ValidateSet(load.Set)
	if err != nil {
		_ = formatter.Error("SCHEMA_GATE", err.Error(), nil)
		return WrapExitError(ExitFailure, "running schema gate", err)
	}
	if len(failures) == 0 {
		return nil
	}

	if formatter.Format == "json" {
		details := make(map[string][]schema.FieldError, len(failures))
		for ref, errs := range failures {
			details[ref.String()] = errs
		}
		_ = formatter.Error("SCHEMA_GATE", "artifacts failed schema validation", details)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Schema gate failed")
		for ref, errs := range failures {
			fmt.Fprintf(formatter.Writer, "  %s\n", ref)
			for _, fe := range errs {
				fmt.Fprintf(formatter.Writer, "    - %s\n", fe)
			}
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d artifact(s) failed schema validation", len(failures)))
}

func recordFabricRun(cmd *cobra.Command, dbPath string, result *reconcile.Result, events []reconcile.Event) error {
	log, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer log.Close()
	return log.RecordFabricRun(cmd.Context(), result, events)
}

func printReconcileSummary(formatter *OutputFormatter, result *reconcile.Result, events []reconcile.Event) {
	w := formatter.Writer

	if formatter.Verbose {
		for _, ev := range events {
			if ev.Path != "" {
				fmt.Fprintf(w, "  [%s] %s %s path=%s\n", ev.Stage, ev.Outcome, ev.Resource, ev.Path)
				continue
			}
			fmt.Fprintf(w, "  [%s] %s %s\n", ev.Stage, ev.Outcome, ev.Resource)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Reconciliation summary for %s (run %s):\n", result.Project, result.RunID)
	fmt.Fprintf(w, "  ✓ Applied: %d resource(s)\n", len(result.Applied))
	for _, ref := range result.Applied {
		fmt.Fprintf(w, "     - %s\n", ref)
	}
	if len(result.Failed) > 0 {
		fmt.Fprintf(w, "  ✗ Failed: %d resource(s)\n", len(result.Failed))
		for _, ref := range result.Failed {
			fmt.Fprintf(w, "     - %s\n", ref)
		}
	}
	if result.OK() {
		fmt.Fprintf(w, "✓ Reconciliation complete for %s\n", result.Project)
	} else {
		fmt.Fprintf(w, "✗ Reconciliation failed for %s\n", result.Project)
	}
}

func refStrings(refs []artifact.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

func storeErrCode(err error) string {
	var se *store.StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return "STORE"
}
