package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidArtifacts(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewValidateCommand, "text", "acme", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ All 3 artifact(s) passed schema validation")
}

func TestValidateValidArtifactsJSON(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewValidateCommand, "json", "acme", "--config", cfg)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateMissingArtifactDirectory(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	output, err := runCommand(t, NewValidateCommand, "text", "ghost", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "ARTIFACT_DIR_MISSING")
}

func TestValidateEmptyProject(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "acme"), 0o755))
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewValidateCommand, "text", "acme", "--config", cfg)
	require.NoError(t, err, "zero artifacts is a warning, not a failure")
	assert.Contains(t, output, "⚠ No artifacts found for acme")
}

func TestValidateSchemaViolation(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	// A binding that drops its required role reference.
	bad := "apiVersion: infisical.verlyn13.dev/v1\n" +
		"kind: ProjectBinding\n" +
		"metadata:\n  name: rogue-bot\n" +
		"spec:\n  identity: rogue-bot\n"
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "acme", "binding_rogue-bot.yaml"), []byte(bad), 0o644))
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewValidateCommand, "text", "acme", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ ProjectBinding/rogue-bot")
}

func TestValidateMalformedFileReported(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "acme", "identity_junk.yaml"), []byte("{broken"), 0o644))
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewValidateCommand, "text", "acme", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, output, "identity_junk.yaml")
}

func TestValidateBadConfig(t *testing.T) {
	_, err := runCommand(t, NewValidateCommand, "text", "acme", "--config", "/nonexistent/fabricctl.toml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
