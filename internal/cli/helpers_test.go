package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/fabricctl/internal/policy"
	"github.com/verlyn13/fabricctl/internal/render"
	"github.com/verlyn13/fabricctl/internal/store"
)

// writeTestConfig writes a minimal config pointing the artifact store at
// outDir, plus any extra TOML lines.
func writeTestConfig(t *testing.T, outDir string, extra ...string) string {
	t.Helper()
	content := fmt.Sprintf("out_dir = %q\n", outDir)
	for _, line := range extra {
		content += line + "\n"
	}
	path := filepath.Join(t.TempDir(), "fabricctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func journalDoc() policy.Document {
	return policy.Document{
		"project_roles": []any{
			map[string]any{"slug": "viewer", "name": "Viewer", "permissions": map[string]any{"read": true}},
		},
		"identities": []any{
			map[string]any{
				"name":         "ci-bot",
				"env":          "prod",
				"project_role": "viewer",
				"permissions": map[string]any{
					"read_paths": []any{"/app/*"},
				},
			},
		},
	}
}

func supabaseDoc() policy.Document {
	return policy.Document{
		"auth": map[string]any{
			"jwt_secret": "${JWT_SECRET}",
			"jwt_exp":    float64(3600),
			"providers":  []any{"github"},
		},
		"database": map[string]any{
			"rls_enforced": true,
		},
		"environment": map[string]any{
			"public": map[string]any{
				"NEXT_PUBLIC_SUPABASE_URL": "https://acme.supabase.co",
			},
		},
	}
}

// writeArtifacts renders the standard fixture into outDir for project acme.
func writeArtifacts(t *testing.T, outDir string, supabase policy.Document) {
	t.Helper()
	out, err := render.Render(render.Input{
		Journal:  journalDoc(),
		Vercel:   policy.Document{"env": map[string]any{}},
		Supabase: supabase,
	})
	require.NoError(t, err)
	require.NoError(t, store.New(outDir).WriteSet("acme", out))
}

// runCommand executes a freshly built command capturing stdout.
func runCommand(t *testing.T, build func(*RootOptions) *cobra.Command, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := build(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
