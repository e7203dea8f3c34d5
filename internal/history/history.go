// Package history keeps an optional, append-only SQLite log of
// reconciliation runs. The engine never reads it back; reconciliation
// results remain fresh values per call.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/verlyn13/fabricctl/internal/platform/supabase"
	"github.com/verlyn13/fabricctl/internal/reconcile"
)

//go:embed schema.sql
var schemaSQL string

// Run targets.
const (
	TargetFabric   = "fabric"
	TargetPlatform = "platform"
)

// Log is a SQLite-backed run history.
type Log struct {
	db *sql.DB
}

// Open creates or opens the history database at the given path.
// The database runs in WAL mode with a single writer connection, the same
// configuration used everywhere this project touches SQLite.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the history database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordFabricRun writes one identity-fabric run and its event trace in a
// single transaction.
func (l *Log) RecordFabricRun(ctx context.Context, result *reconcile.Result, events []reconcile.Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, result.RunID, result.Project, TargetFabric, result.DryRun, result.OK()); err != nil {
		return err
	}
	for seq, ev := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, seq, stage, resource, path, outcome, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, seq, string(ev.Stage), ev.Resource.String(), ev.Path, string(ev.Outcome), ev.Err,
		); err != nil {
			return fmt.Errorf("recording event %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

// RecordPlatformRun writes one platform-config run with a row per stage.
func (l *Log) RecordPlatformRun(ctx context.Context, runID string, result *supabase.Result) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, runID, result.Project, TargetPlatform, result.DryRun, result.OK()); err != nil {
		return err
	}
	for seq, stage := range result.Stages {
		outcome, errMsg := "applied", ""
		if stage.Err != nil {
			outcome, errMsg = "failed", stage.Err.Error()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, seq, stage, resource, path, outcome, error)
			 VALUES (?, ?, ?, ?, '', ?, ?)`,
			runID, seq, string(stage.Stage), result.Project, outcome, errMsg,
		); err != nil {
			return fmt.Errorf("recording stage %s: %w", stage.Stage, err)
		}
	}
	return tx.Commit()
}

func insertRun(ctx context.Context, tx *sql.Tx, id, project, target string, dryRun, ok bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, project, target, dry_run, started_at, ok)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, project, target, boolInt(dryRun), time.Now().UTC().Format(time.RFC3339), boolInt(ok),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", id, err)
	}
	return nil
}

// RunRecord is one row of the run history.
type RunRecord struct {
	ID        string
	Project   string
	Target    string
	DryRun    bool
	StartedAt string
	OK        bool
}

// Runs returns the most recent runs for a project, newest first.
func (l *Log) Runs(ctx context.Context, project string, limit int) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, project, target, dry_run, started_at, ok
		 FROM runs WHERE project = ? ORDER BY started_at DESC, id LIMIT ?`,
		project, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var dryRun, ok int
		if err := rows.Scan(&r.ID, &r.Project, &r.Target, &dryRun, &r.StartedAt, &ok); err != nil {
			return nil, err
		}
		r.DryRun = dryRun != 0
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
