package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/config"
	"github.com/verlyn13/fabricctl/internal/history"
	"github.com/verlyn13/fabricctl/internal/platform"
	"github.com/verlyn13/fabricctl/internal/platform/supabase"
	"github.com/verlyn13/fabricctl/internal/store"
)

// PlatformOptions holds flags for the platform command.
type PlatformOptions struct {
	*RootOptions
	DryRun      bool
	ConfigPath  string
	PlatformURL string
	PlatformKey string

	// Client allows tests to substitute a fake adapter.
	Client platform.ConfigClient
}

// PlatformStageSummary is one stage in the command's payload.
type PlatformStageSummary struct {
	Stage   string   `json:"stage"`
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Applied []string `json:"applied,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

// PlatformSummary is the platform command's payload.
type PlatformSummary struct {
	Project string                 `json:"project"`
	RunID   string                 `json:"run_id"`
	DryRun  bool                   `json:"dry_run"`
	Stages  []PlatformStageSummary `json:"stages"`
	OK      bool                   `json:"ok"`
}

// NewPlatformCommand creates the platform command.
func NewPlatformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlatformOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "platform <project>",
		Short: "Apply rendered platform configuration",
		Long: `Reconcile the project's Supabase configuration manifest.

Four stages run unconditionally (Authentication, Database, Environment,
EdgeFunctions); security gates fail a stage before any call is issued.
Exit code 0 only if all four stages succeed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlatform(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate and preview without applying")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to fabricctl config file")
	cmd.Flags().StringVar(&opts.PlatformURL, "platform-url", "", "platform management API URL (overrides config)")
	cmd.Flags().StringVar(&opts.PlatformKey, "platform-key", "", "platform service key (overrides config)")

	return cmd
}

func runPlatform(opts *PlatformOptions, project string, cmd *cobra.Command) error {
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
	if opts.PlatformURL != "" {
		cfg.Supabase.URL = opts.PlatformURL
	}
	if opts.PlatformKey != "" {
		cfg.Supabase.ServiceKey = opts.PlatformKey
	}

	st := store.New(cfg.OutDir)
	doc, err := st.ReadManifest(project, store.SupabaseManifest)
	if err != nil {
		_ = formatter.Error(storeErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "loading manifest", err)
	}
	formatter.VerboseLog("Configuration loaded from %s", store.SupabaseManifest)

	manifest, err := supabase.ParseManifest(doc)
	if err != nil {
		_ = formatter.Error(store.ErrCodeManifestParse, err.Error(), nil)
		return WrapExitError(ExitFailure, "parsing manifest", err)
	}

	client := opts.Client
	if client == nil {
		var clientOpts []supabase.ClientOption
		if cfg.Supabase.DatabaseDSN != "" {
			db, err := supabase.OpenDatabase(cfg.Supabase.DatabaseDSN)
			if err != nil {
				_ = formatter.Error("DATABASE", err.Error(), nil)
				return WrapExitError(ExitFailure, "connecting to database", err)
			}
			defer db.Close()
			clientOpts = append(clientOpts, supabase.WithDB(db))
		}
		client = supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, clientOpts...)
	}

	rec := supabase.NewReconciler(project, client,
		supabase.WithTables(cfg.Supabase.Tables),
		supabase.WithFunctionsRoot(cfg.Supabase.FunctionsRoot),
		supabase.WithCallTimeout(time.Duration(cfg.CallTimeoutSeconds)*time.Second),
	)

	if opts.DryRun {
		formatter.VerboseLog("Dry-run mode: no changes will be applied")
	}
	result := rec.Reconcile(cmd.Context(), manifest, opts.DryRun)
	runID := uuid.NewString()

	if cfg.HistoryDB != "" {
		if err := recordPlatformRun(cmd, cfg.HistoryDB, runID, result); err != nil {
			formatter.VerboseLog("history not recorded: %v", err)
		}
	}

	summary := PlatformSummary{
		Project: project,
		RunID:   runID,
		DryRun:  result.DryRun,
		OK:      result.OK(),
	}
	for _, sr := range result.Stages {
		ss := PlatformStageSummary{
			Stage:   string(sr.Stage),
			OK:      sr.Err == nil,
			Applied: sr.Applied,
			Skipped: sr.Skipped,
		}
		if sr.Err != nil {
			ss.Error = sr.Err.Error()
		}
		summary.Stages = append(summary.Stages, ss)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		printPlatformSummary(formatter, result)
	}

	if !result.OK() {
		return NewExitError(ExitFailure, "platform configuration failed")
	}
	return nil
}

func recordPlatformRun(cmd *cobra.Command, dbPath, runID string, result *supabase.Result) error {
	log, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer log.Close()
	return log.RecordPlatformRun(cmd.Context(), runID, result)
}

func printPlatformSummary(formatter *OutputFormatter, result *supabase.Result) {
	w := formatter.Writer
	fmt.Fprintf(w, "Platform configuration summary for %s:\n", result.Project)
	for _, sr := range result.Stages {
		if sr.Err != nil {
			fmt.Fprintf(w, "  ✗ %s: %v\n", sr.Stage, sr.Err)
			continue
		}
		fmt.Fprintf(w, "  ✓ %s", sr.Stage)
		if len(sr.Applied) > 0 {
			fmt.Fprintf(w, " (%d applied)", len(sr.Applied))
		}
		fmt.Fprintln(w)
		for _, key := range sr.Skipped {
			fmt.Fprintf(w, "      skipped %s (not a recognized public variable)\n", key)
		}
	}
	if result.OK() {
		fmt.Fprintf(w, "✓ Platform configuration complete for %s\n", result.Project)
	} else {
		fmt.Fprintf(w, "✗ Platform configuration failed for %s\n", result.Project)
	}
}
