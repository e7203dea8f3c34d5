package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/policy"
	"github.com/verlyn13/fabricctl/internal/render"
)

func renderFixture(t *testing.T) *render.Output {
	t.Helper()
	out, err := render.Render(render.Input{
		Journal: policy.Document{
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
		},
		Vercel:   policy.Document{"env": map[string]any{"NEXT_PUBLIC_API": "https://api.example.com"}},
		Supabase: policy.Document{"auth": map[string]any{"jwt_exp": float64(3600)}},
	})
	require.NoError(t, err)
	return out
}

func TestFileName(t *testing.T) {
	role := &artifact.Artifact{Kind: artifact.KindProjectRole, Metadata: artifact.Metadata{Name: "Viewer", Slug: "viewer"}}
	ident := &artifact.Artifact{Kind: artifact.KindMachineIdentity, Metadata: artifact.Metadata{Name: "ci-bot"}}
	binding := &artifact.Artifact{Kind: artifact.KindProjectBinding, Metadata: artifact.Metadata{Name: "ci-bot"}}

	assert.Equal(t, "ProjectRole_viewer.yaml", FileName(role))
	assert.Equal(t, "identity_ci-bot.yaml", FileName(ident))
	assert.Equal(t, "binding_ci-bot.yaml", FileName(binding))
}

func TestWriteSet_LoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WriteSet("acme", renderFixture(t)))

	load, err := s.Load("acme")
	require.NoError(t, err)
	assert.Empty(t, load.Malformed)
	require.Equal(t, 3, load.Set.Len())

	role, ok := load.Set.Get(artifact.Ref{Kind: artifact.KindProjectRole, Name: "viewer"})
	require.True(t, ok)
	assert.Equal(t, "Viewer", role.Metadata.Name)

	_, ok = load.Set.Get(artifact.Ref{Kind: artifact.KindProjectBinding, Name: "ci-bot"})
	assert.True(t, ok)
}

func TestWriteSet_RerenderIsByteIdentical(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WriteSet("acme", renderFixture(t)))

	path := filepath.Join(s.ProjectDir("acme"), "binding_ci-bot.yaml")
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	// Second render from the same input overwrites with identical bytes.
	require.NoError(t, s.WriteSet("acme", renderFixture(t)))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWriteSet_WritesManifests(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WriteSet("acme", renderFixture(t)))

	doc, err := s.ReadManifest("acme", SupabaseManifest)
	require.NoError(t, err)
	auth := doc["auth"].(map[string]any)
	assert.Equal(t, float64(3600), auth["jwt_exp"])

	vercel, err := s.ReadManifest("acme", VercelManifest)
	require.NoError(t, err)
	assert.Contains(t, vercel, "env")
}

func TestLoad_MissingDirectory(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Load("ghost")
	require.Error(t, err)
	assert.True(t, IsDirMissing(err))
	assert.Contains(t, err.Error(), "ARTIFACT_DIR_MISSING")
}

func TestLoad_MalformedFileIsCollected(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.WriteSet("acme", renderFixture(t)))

	bad := filepath.Join(s.ProjectDir("acme"), "identity_broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("{not yaml"), 0o644))

	load, err := s.Load("acme")
	require.NoError(t, err)
	// The good artifacts still load; the bad file is reported alongside.
	assert.Equal(t, 3, load.Set.Len())
	require.Len(t, load.Malformed, 1)
	assert.Equal(t, "identity_broken.yaml", load.Malformed[0].File)
	assert.Equal(t, artifact.KindMachineIdentity, load.Malformed[0].Kind)
}

func TestLoad_KindMismatchIsMalformed(t *testing.T) {
	s := New(t.TempDir())
	dir := s.ProjectDir("acme")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// A binding file that declares itself a role.
	content := "apiVersion: v1\nkind: ProjectRole\nmetadata:\n  name: x\n  slug: x\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binding_x.yaml"), []byte(content), 0o644))

	load, err := s.Load("acme")
	require.NoError(t, err)
	assert.Equal(t, 0, load.Set.Len())
	require.Len(t, load.Malformed, 1)
	assert.Contains(t, load.Malformed[0].Err.Error(), "expected ProjectBinding")
}

func TestReadManifest_Missing(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.ReadManifest("acme", SupabaseManifest)
	require.Error(t, err)
	assert.True(t, IsManifestMissing(err))
	assert.Contains(t, err.Error(), "run render first")
}

func TestReadManifest_ParseError(t *testing.T) {
	s := New(t.TempDir())
	dir := s.ProjectDir("acme")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SupabaseManifest), []byte("not json"), 0o644))

	_, err := s.ReadManifest("acme", SupabaseManifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MANIFEST_PARSE")
}
