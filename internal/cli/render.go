package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verlyn13/fabricctl/internal/config"
	"github.com/verlyn13/fabricctl/internal/policy"
	"github.com/verlyn13/fabricctl/internal/render"
	"github.com/verlyn13/fabricctl/internal/store"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	ConfigPath string
	PolicyDir  string
	OutDir     string
}

// RenderSummary is the render command's success payload.
type RenderSummary struct {
	Project   string   `json:"project"`
	Artifacts []string `json:"artifacts"`
	Manifests []string `json:"manifests"`
	OutDir    string   `json:"out_dir"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <project>",
		Short: "Render artifacts from the policy source",
		Long: `Render the project's access-control artifacts and platform manifests
from the policy evaluation source into the artifact store.

Rendering is idempotent and total: the same policy input always yields
byte-identical artifact files.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to fabricctl config file")
	cmd.Flags().StringVar(&opts.PolicyDir, "policy-dir", "", "policy data directory (overrides config)")
	cmd.Flags().StringVar(&opts.OutDir, "out", "", "artifact output root (overrides config)")

	return cmd
}

func runRender(opts *RenderOptions, project string, cmd *cobra.Command) error {
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
	if opts.PolicyDir != "" {
		cfg.PolicyDir = opts.PolicyDir
	}
	if opts.OutDir != "" {
		cfg.OutDir = opts.OutDir
	}

	source, err := newSource(cfg)
	if err != nil {
		_ = formatter.Error(policyErrCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "opening policy source", err)
	}

	ctx := cmd.Context()
	formatter.VerboseLog("Querying policy source (%s) in %s", cfg.PolicySource, cfg.PolicyDir)

	journal, err := source.Query(ctx, policy.DocJournal)
	if err != nil {
		_ = formatter.Error(policyErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "querying journal", err)
	}
	vercel, err := source.Query(ctx, policy.DocVercel)
	if err != nil {
		_ = formatter.Error(policyErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "querying vercel manifest", err)
	}
	supabaseDoc, err := source.Query(ctx, policy.DocSupabase)
	if err != nil {
		_ = formatter.Error(policyErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "querying supabase manifest", err)
	}

	out, err := render.Render(render.Input{Journal: journal, Vercel: vercel, Supabase: supabaseDoc})
	if err != nil {
		_ = formatter.Error(renderErrCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "rendering artifacts", err)
	}

	st := store.New(cfg.OutDir)
	if err := st.WriteSet(project, out); err != nil {
		_ = formatter.Error("WRITE_FAILED", err.Error(), nil)
		return WrapExitError(ExitFailure, "writing artifacts", err)
	}

	summary := RenderSummary{
		Project: project,
		OutDir:  st.ProjectDir(project),
	}
	for _, a := range out.Artifacts.All() {
		summary.Artifacts = append(summary.Artifacts, store.FileName(a))
	}
	if out.Vercel != nil {
		summary.Manifests = append(summary.Manifests, store.VercelManifest)
	}
	if out.Supabase != nil {
		summary.Manifests = append(summary.Manifests, store.SupabaseManifest)
	}

	if formatter.Format == "json" {
		return formatter.Success(summary)
	}
	fmt.Fprintf(formatter.Writer, "✓ Rendered %d artifact(s), %d manifest(s)\n",
		len(summary.Artifacts), len(summary.Manifests))
	for _, name := range summary.Artifacts {
		fmt.Fprintf(formatter.Writer, "  %s\n", name)
	}
	for _, name := range summary.Manifests {
		fmt.Fprintf(formatter.Writer, "  %s\n", name)
	}
	fmt.Fprintf(formatter.Writer, "Artifacts written to %s\n", summary.OutDir)
	return nil
}

func newSource(cfg *config.Config) (policy.Source, error) {
	switch cfg.PolicySource {
	case config.SourceOPA:
		return policy.NewOPASource(cfg.PolicyDir), nil
	default:
		return policy.NewCUESource(cfg.PolicyDir)
	}
}

func policyErrCode(err error) string {
	var se *policy.SourceError
	if errors.As(err, &se) {
		return se.Code
	}
	return "POLICY"
}

func renderErrCode(err error) string {
	var re *render.RenderError
	if errors.As(err, &re) {
		return re.Code
	}
	return "RENDER"
}
