package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileDryRun(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewReconcileCommand, "text", "acme", "--dry-run", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Applied: 3 resource(s)")
	assert.Contains(t, output, "ProjectRole/viewer")
	assert.Contains(t, output, "MachineIdentity/ci-bot")
	assert.Contains(t, output, "ProjectBinding/ci-bot")
	assert.Contains(t, output, "✓ Reconciliation complete for acme")
}

func TestReconcileDryRunJSON(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewReconcileCommand, "json", "acme", "--dry-run", "--config", cfg)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["dry_run"])
	assert.Equal(t, true, data["ok"])
	applied := data["applied"].([]any)
	assert.Equal(t, []any{"ProjectRole/viewer", "MachineIdentity/ci-bot", "ProjectBinding/ci-bot"}, applied)
}

func TestReconcileMissingArtifactDirectory(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	output, err := runCommand(t, NewReconcileCommand, "text", "ghost", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "ARTIFACT_DIR_MISSING")
}

func TestReconcileSchemaGateAborts(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	bad := "apiVersion: infisical.verlyn13.dev/v1\n" +
		"kind: ProjectBinding\n" +
		"metadata:\n  name: rogue-bot\n" +
		"spec:\n  identity: rogue-bot\n"
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "acme", "binding_rogue-bot.yaml"), []byte(bad), 0o644))
	cfg := writeTestConfig(t, outDir)

	output, err := runCommand(t, NewReconcileCommand, "text", "acme", "--dry-run", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ Schema gate failed")
	assert.Contains(t, output, "ProjectBinding/rogue-bot")
	// The gate aborts before any stage runs.
	assert.NotContains(t, output, "Reconciliation summary")
}

func TestReconcileNoGateStillFailsPerResource(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	bad := "apiVersion: infisical.verlyn13.dev/v1\n" +
		"kind: ProjectBinding\n" +
		"metadata:\n  name: rogue-bot\n" +
		"spec:\n  identity: rogue-bot\n"
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "acme", "binding_rogue-bot.yaml"), []byte(bad), 0o644))
	cfg := writeTestConfig(t, outDir)

	// Without the gate, the dry run itself catches the missing role at the
	// resource boundary.
	output, err := runCommand(t, NewReconcileCommand, "text", "acme", "--dry-run", "--no-gate", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ Failed: 1 resource(s)")
	assert.Contains(t, output, "ProjectBinding/rogue-bot")
	assert.Contains(t, output, "✗ Reconciliation failed for acme")
}

func TestReconcileRecordsHistory(t *testing.T) {
	outDir := t.TempDir()
	writeArtifacts(t, outDir, supabaseDoc())
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfg := writeTestConfig(t, outDir, fmt.Sprintf("history_db = %q", dbPath))

	_, err := runCommand(t, NewReconcileCommand, "text", "acme", "--dry-run", "--config", cfg)
	require.NoError(t, err)

	output, err := runCommand(t, NewHistoryCommand, "text", "acme", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, output, "fabric")
	assert.Contains(t, output, "(dry-run)")
}
