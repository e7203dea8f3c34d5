package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const renderPolicyFixture = `
package fabric

infisical: journal: {
	project_roles: [{
		slug: "viewer"
		name: "Viewer"
		permissions: read: true
	}]
	identities: [{
		name:         "ci-bot"
		env:          "prod"
		project_role: "viewer"
		permissions: read_paths: ["/app/*"]
	}]
}

platforms: vercel: env: NEXT_PUBLIC_API: "https://api.example.com"

platforms: supabase: {
	auth: {
		jwt_secret: "${JWT_SECRET}"
		jwt_exp:    3600
	}
	database: rls_enforced: true
}
`

func writePolicyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fabric.cue"), []byte(renderPolicyFixture), 0o644))
	return dir
}

func TestRenderWritesArtifacts(t *testing.T) {
	outDir := t.TempDir()

	output, err := runCommand(t, NewRenderCommand, "text", "acme",
		"--policy-dir", writePolicyDir(t), "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Rendered 3 artifact(s), 2 manifest(s)")

	projectDir := filepath.Join(outDir, "acme")
	for _, name := range []string{
		"ProjectRole_viewer.yaml",
		"identity_ci-bot.yaml",
		"binding_ci-bot.yaml",
		"vercel-env.json",
		"supabase-config.json",
	} {
		_, err := os.Stat(filepath.Join(projectDir, name))
		assert.NoError(t, err, "expected %s to be written", name)
	}
}

func TestRenderIdempotent(t *testing.T) {
	outDir := t.TempDir()
	policyDir := writePolicyDir(t)

	_, err := runCommand(t, NewRenderCommand, "text", "acme", "--policy-dir", policyDir, "--out", outDir)
	require.NoError(t, err)
	path := filepath.Join(outDir, "acme", "ProjectRole_viewer.yaml")
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = runCommand(t, NewRenderCommand, "text", "acme", "--policy-dir", policyDir, "--out", outDir)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-render must be byte-identical")
}

func TestRenderJSON(t *testing.T) {
	output, err := runCommand(t, NewRenderCommand, "json", "acme",
		"--policy-dir", writePolicyDir(t), "--out", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Len(t, data["artifacts"].([]any), 3)
}

func TestRenderMissingPolicyDir(t *testing.T) {
	output, err := runCommand(t, NewRenderCommand, "text", "acme",
		"--policy-dir", filepath.Join(t.TempDir(), "nope"), "--out", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "POLICY_DIR_NOT_FOUND")
}

func TestRenderUnknownRoleReference(t *testing.T) {
	dir := t.TempDir()
	broken := `
package fabric

infisical: journal: {
	project_roles: [{slug: "viewer", name: "Viewer", permissions: {}}]
	identities: [{name: "ci-bot", project_role: "admin"}]
}
platforms: vercel: {}
platforms: supabase: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fabric.cue"), []byte(broken), 0o644))

	output, err := runCommand(t, NewRenderCommand, "text", "acme",
		"--policy-dir", dir, "--out", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "REFERENTIAL_INTEGRITY")
}
