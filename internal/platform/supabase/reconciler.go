package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/verlyn13/fabricctl/internal/platform"
)

// ConfigStage names the four configuration stages.
type ConfigStage string

const (
	StageAuthentication ConfigStage = "Authentication"
	StageDatabase       ConfigStage = "Database"
	StageEnvironment    ConfigStage = "Environment"
	StageEdgeFunctions  ConfigStage = "EdgeFunctions"
)

// configStageOrder lists the stages in evaluation order. Every stage is
// evaluated unconditionally; a failure in one does not skip the others.
var configStageOrder = []ConfigStage{
	StageAuthentication,
	StageDatabase,
	StageEnvironment,
	StageEdgeFunctions,
}

// StageResult is the outcome of one configuration stage.
type StageResult struct {
	Stage    ConfigStage
	Err      error
	Applied  []string // provider names, table names, env keys, function names
	Skipped  []string // env keys skipped with a warning
}

// Result is the outcome of one platform-config reconciliation, returned
// fresh per call.
type Result struct {
	Project string
	DryRun  bool
	Stages  []StageResult
}

// OK is true iff all four stages succeeded.
func (r *Result) OK() bool {
	for _, s := range r.Stages {
		if s.Err != nil {
			return false
		}
	}
	return true
}

// TableLister discovers the tables of a schema so RLS can be enabled per
// table. The SQL client implements it; tests and offline runs fall back to
// the configured table list.
type TableLister interface {
	ListTables(ctx context.Context, schema string) ([]string, error)
}

// DefaultCallTimeout bounds each remote call.
const DefaultCallTimeout = 30 * time.Second

// Reconciler applies a Supabase manifest through a ConfigClient, enforcing
// the security gates before any call is issued. It holds no mutable state
// across runs.
type Reconciler struct {
	project       string
	client        platform.ConfigClient
	tables        []string
	functionsRoot string
	callTimeout   time.Duration
	logger        *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithTables sets the fallback table list used when the client cannot
// discover tables itself.
func WithTables(tables []string) ReconcilerOption {
	return func(r *Reconciler) { r.tables = tables }
}

// WithFunctionsRoot sets the directory edge functions are discovered under.
// Functions live at <root>/<project>/<name>/index.ts.
func WithFunctionsRoot(dir string) ReconcilerOption {
	return func(r *Reconciler) { r.functionsRoot = dir }
}

// WithCallTimeout bounds each remote call.
func WithCallTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.callTimeout = d }
}

// WithLogger sets the reconciler's logger.
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a reconciler for one project.
func NewReconciler(project string, client platform.ConfigClient, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		project:       project,
		client:        client,
		tables:        []string{"posts", "users"},
		functionsRoot: filepath.Join("supabase", "functions"),
		callTimeout:   DefaultCallTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile evaluates all four configuration stages against the manifest.
// Dry-run performs every gate check and construction step without issuing
// remote calls.
func (r *Reconciler) Reconcile(ctx context.Context, m *Manifest, dryRun bool) *Result {
	result := &Result{Project: r.project, DryRun: dryRun}

	r.logger.Info("reconciling platform configuration", "project", r.project, "dry_run", dryRun)

	for _, stage := range configStageOrder {
		var sr StageResult
		switch stage {
		case StageAuthentication:
			sr = r.applyAuth(ctx, m, dryRun)
		case StageDatabase:
			sr = r.applyDatabase(ctx, m, dryRun)
		case StageEnvironment:
			sr = r.applyEnvironment(ctx, m, dryRun)
		case StageEdgeFunctions:
			sr = r.applyEdgeFunctions(ctx, dryRun)
		}
		if sr.Err != nil {
			r.logger.Warn("stage failed", "stage", stage, "error", sr.Err)
		}
		result.Stages = append(result.Stages, sr)
	}

	return result
}

// applyAuth validates the JWT policy, then configures each listed provider.
func (r *Reconciler) applyAuth(ctx context.Context, m *Manifest, dryRun bool) StageResult {
	sr := StageResult{Stage: StageAuthentication}

	if m.Auth.JWTSecret == "" {
		sr.Err = &PolicyError{Code: ErrCodeJWTPolicy, Message: "jwt_secret reference is missing"}
		return sr
	}
	if m.Auth.JWTExp > MaxJWTExp {
		sr.Err = &PolicyError{
			Code:    ErrCodeJWTPolicy,
			Message: fmt.Sprintf("jwt_exp %ds exceeds maximum %ds", m.Auth.JWTExp, MaxJWTExp),
		}
		return sr
	}

	for _, provider := range m.Auth.Providers {
		r.logger.Debug("configuring auth provider", "provider", provider)
		if !dryRun {
			if err := r.call(ctx, func(callCtx context.Context) error {
				return r.client.ConfigureAuthProvider(callCtx, provider)
			}); err != nil {
				sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "configuring provider " + provider, Err: err}
				return sr
			}
		}
		sr.Applied = append(sr.Applied, provider)
	}
	return sr
}

// applyDatabase enforces the RLS hard gate, then enables row-level
// security per known table. When the gate fails, zero SQL is issued.
func (r *Reconciler) applyDatabase(ctx context.Context, m *Manifest, dryRun bool) StageResult {
	sr := StageResult{Stage: StageDatabase}

	if !m.Database.RLSEnforced {
		sr.Err = &PolicyError{Code: ErrCodeRLSNotEnforced, Message: "rls_enforced is false"}
		return sr
	}

	tables, err := r.knownTables(ctx, m.Database.Schema)
	if err != nil {
		sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "discovering tables", Err: err}
		return sr
	}

	for _, table := range tables {
		r.logger.Debug("enabling row-level security", "schema", m.Database.Schema, "table", table)
		if !dryRun {
			if err := r.call(ctx, func(callCtx context.Context) error {
				return r.client.EnableRLS(callCtx, m.Database.Schema, table)
			}); err != nil {
				sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "enabling RLS on " + table, Err: err}
				return sr
			}
		}
		sr.Applied = append(sr.Applied, table)
	}
	return sr
}

func (r *Reconciler) knownTables(ctx context.Context, schema string) ([]string, error) {
	if lister, ok := r.client.(TableLister); ok {
		tables, err := lister.ListTables(ctx, schema)
		if err == nil {
			return tables, nil
		}
		if !errors.Is(err, ErrNoDatabase) {
			return nil, err
		}
	}
	tables := make([]string, len(r.tables))
	copy(tables, r.tables)
	sort.Strings(tables)
	return tables, nil
}

// applyEnvironment applies public environment variables. Any key carrying
// a service-key marker fails the stage before a single key is applied.
// Keys without the recognized public prefix are skipped with a warning.
func (r *Reconciler) applyEnvironment(ctx context.Context, m *Manifest, dryRun bool) StageResult {
	sr := StageResult{Stage: StageEnvironment}

	keys := make([]string, 0, len(m.Environment.Public))
	for k := range m.Environment.Public {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Leakage gate first: scan every key before applying any.
	for _, key := range keys {
		if strings.Contains(key, ServiceKeyMarker) {
			sr.Err = &PolicyError{
				Code:    ErrCodeServiceKeyExposure,
				Message: fmt.Sprintf("%s: service key must never be public", key),
			}
			return sr
		}
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, PublicPrefix) {
			r.logger.Warn("skipping environment key", "key", key, "reason", "not a recognized public variable")
			sr.Skipped = append(sr.Skipped, key)
			continue
		}
		if !dryRun {
			if err := r.call(ctx, func(callCtx context.Context) error {
				return r.client.SetPublicEnvVar(callCtx, key, m.Environment.Public[key])
			}); err != nil {
				sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "setting " + key, Err: err}
				return sr
			}
		}
		sr.Applied = append(sr.Applied, key)
	}
	return sr
}

// applyEdgeFunctions discovers deployable functions under the project's
// functions directory and deploys each. A missing directory is simply
// zero functions, not an error.
func (r *Reconciler) applyEdgeFunctions(ctx context.Context, dryRun bool) StageResult {
	sr := StageResult{Stage: StageEdgeFunctions}

	functions, err := r.discoverFunctions()
	if err != nil {
		sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "discovering edge functions", Err: err}
		return sr
	}

	for _, fn := range functions {
		r.logger.Debug("deploying edge function", "function", fn)
		if !dryRun {
			if err := r.call(ctx, func(callCtx context.Context) error {
				return r.client.DeployFunction(callCtx, fn)
			}); err != nil {
				sr.Err = &PolicyError{Code: ErrCodeRemoteApply, Message: "deploying " + fn, Err: err}
				return sr
			}
		}
		sr.Applied = append(sr.Applied, fn)
	}
	return sr
}

// discoverFunctions locates directories containing an index.ts under
// <functionsRoot>/<project>.
func (r *Reconciler) discoverFunctions() ([]string, error) {
	dir := filepath.Join(r.functionsRoot, r.project)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var functions []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), "index.ts")); err == nil {
			functions = append(functions, entry.Name())
		}
	}
	sort.Strings(functions)
	return functions, nil
}

func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return fn(callCtx)
}
