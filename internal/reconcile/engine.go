// Package reconcile applies a rendered artifact set to an external platform
// in fixed stage order, tracking per-resource success and failure.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/platform"
	"github.com/verlyn13/fabricctl/internal/store"
)

// Mode selects between a real apply and a dry run. A dry run performs
// every validation and construction step but issues no remote mutating
// call; its result is a faithful preview of an apply.
type Mode int

const (
	ModeApply Mode = iota
	ModeDryRun
)

// DefaultCallTimeout bounds each remote call. No call in a run may block
// indefinitely; a timed-out call is a failed resource, not a fatal error.
const DefaultCallTimeout = 30 * time.Second

// errStop signals fail-fast cancellation inside a stage group.
var errStop = errors.New("fail-fast: stopping run")

// Engine reconciles one project's artifacts against an identity platform.
//
// The engine carries no mutable state across runs: every Reconcile call
// returns a fresh Result, so engines for different projects can run
// concurrently with nothing shared.
type Engine struct {
	project     string
	client      platform.IdentityClient
	sink        EventSink
	runGen      RunTokenGenerator
	callTimeout time.Duration
	parallelism int
	failFast    bool
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the event sink. Defaults to NopSink.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithCallTimeout bounds each remote call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithParallelism bounds concurrent applies within a stage. Resources in
// the same stage are independent, so values above 1 are safe; the stage
// barrier and the result order stay deterministic regardless.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithFailFast stops the run after the stage in which the first failure
// occurred, instead of the default best-effort, report-everything policy.
func WithFailFast() Option {
	return func(e *Engine) { e.failFast = true }
}

// WithRunTokenGenerator overrides run token generation (for tests).
func WithRunTokenGenerator(g RunTokenGenerator) Option {
	return func(e *Engine) { e.runGen = g }
}

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine for one project.
func New(project string, client platform.IdentityClient, opts ...Option) *Engine {
	e := &Engine{
		project:     project,
		client:      client,
		sink:        NopSink{},
		runGen:      UUIDGenerator{},
		callTimeout: DefaultCallTimeout,
		parallelism: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies the loaded artifact set stage by stage.
//
// Within a stage, artifacts are processed in lexicographic name order (the
// order OfKind returns). Per-resource apply is isolated: a failure is
// recorded and processing continues through the stage and on to later
// stages. Events and result entries are emitted in deterministic order
// even when in-stage parallelism is enabled.
func (e *Engine) Reconcile(ctx context.Context, load *store.LoadResult, mode Mode) *Result {
	result := &Result{
		RunID:   e.runGen.Generate(),
		Project: e.project,
		DryRun:  mode == ModeDryRun,
	}

	e.logger.Info("reconciling identity fabric",
		"project", e.project, "run", result.RunID, "dry_run", result.DryRun)

	for _, st := range stageOrder {
		e.logger.Debug("starting stage", "stage", st.Stage)

		// Files that matched this stage's glob but failed to parse are
		// failed resources of the stage.
		for _, bad := range malformedForKind(load, st.Kind) {
			outcome := ResourceOutcome{
				Stage: st.Stage,
				Ref:   artifact.Ref{Kind: st.Kind, Name: bad.File},
				Err:   &ResourceError{Code: ErrCodeArtifactParse, Ref: artifact.Ref{Kind: st.Kind, Name: bad.File}, Err: bad.Err},
			}
			e.recordOutcome(result, outcome)
		}

		arts := load.Set.OfKind(st.Kind)
		outcomes := make([]ResourceOutcome, len(arts))

		g, stageCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for i, a := range arts {
			g.Go(func() error {
				outcomes[i] = e.applyOne(stageCtx, st.Stage, a, mode)
				if e.failFast && outcomes[i].Failed() {
					return errStop
				}
				return nil
			})
		}
		// Stage barrier: the next stage never starts before every resource
		// in this one has been attempted (or cancelled under fail-fast).
		stopped := g.Wait() != nil

		for i := range outcomes {
			if outcomes[i].Ref.Name == "" {
				continue // slot never ran (fail-fast cancellation)
			}
			e.recordOutcome(result, outcomes[i])
		}

		if stopped || (e.failFast && len(result.Failed) > 0) {
			e.logger.Warn("stopping run after failure", "stage", st.Stage)
			break
		}
	}

	e.logger.Info("reconciliation finished",
		"project", e.project, "run", result.RunID,
		"applied", len(result.Applied), "failed", len(result.Failed))

	return result
}

func malformedForKind(load *store.LoadResult, kind artifact.Kind) []store.MalformedArtifact {
	var out []store.MalformedArtifact
	for _, m := range load.Malformed {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// recordOutcome folds one resource outcome into the result and emits its
// events, per-path entries first.
func (e *Engine) recordOutcome(result *Result, outcome ResourceOutcome) {
	result.Resources = append(result.Resources, outcome)

	for _, p := range outcome.Paths {
		ev := Event{
			RunID:    result.RunID,
			Project:  e.project,
			Stage:    outcome.Stage,
			Resource: outcome.Ref,
			Path:     p.Path,
			Outcome:  OutcomeApplied,
			DryRun:   result.DryRun,
		}
		if p.Err != nil {
			ev.Outcome = OutcomeFailed
			ev.Err = p.Err.Error()
		}
		e.sink.Emit(ev)
	}

	ev := Event{
		RunID:    result.RunID,
		Project:  e.project,
		Stage:    outcome.Stage,
		Resource: outcome.Ref,
		Outcome:  OutcomeApplied,
		DryRun:   result.DryRun,
	}
	if outcome.Failed() {
		ev.Outcome = OutcomeFailed
		if outcome.Err != nil {
			ev.Err = outcome.Err.Error()
		} else {
			ev.Err = "one or more paths failed"
		}
		result.Failed = append(result.Failed, outcome.Ref)
	} else {
		result.Applied = append(result.Applied, outcome.Ref)
	}
	e.sink.Emit(ev)
}

// applyOne dispatches a single artifact to the adapter. Dry-run mode runs
// the same construction and validation but skips the remote call.
func (e *Engine) applyOne(ctx context.Context, stage Stage, a *artifact.Artifact, mode Mode) ResourceOutcome {
	outcome := ResourceOutcome{Stage: stage, Ref: a.Ref()}

	switch a.Kind {
	case artifact.KindProjectRole:
		outcome.Err = e.applyRole(ctx, a, mode)
	case artifact.KindMachineIdentity:
		outcome.Err = e.applyIdentity(ctx, a, mode)
	case artifact.KindProjectBinding:
		outcome.Paths, outcome.Err = e.applyBinding(ctx, a, mode)
	default:
		outcome.Err = &ResourceError{
			Code: ErrCodeArtifactParse,
			Ref:  a.Ref(),
			Err:  fmt.Errorf("no adapter for kind %s", a.Kind),
		}
	}
	return outcome
}

func (e *Engine) applyRole(ctx context.Context, a *artifact.Artifact, mode Mode) error {
	perms, _ := a.Spec["permissions"].(map[string]any)
	e.logger.Debug("applying role", "role", a.Ref().Name)

	if mode == ModeDryRun {
		return nil
	}
	if err := e.call(ctx, func(callCtx context.Context) error {
		return e.client.CreateRole(callCtx, e.project, a.Ref().Name, perms)
	}); err != nil {
		return &ResourceError{Code: ErrCodeRemoteApply, Ref: a.Ref(), Err: err}
	}
	return nil
}

func (e *Engine) applyIdentity(ctx context.Context, a *artifact.Artifact, mode Mode) error {
	name := a.Metadata.Name
	env := a.Metadata.Labels["env"]
	identityType := identityTypeOf(a)
	e.logger.Debug("applying identity", "identity", name, "env", env)

	if mode == ModeDryRun {
		return nil
	}
	if err := e.call(ctx, func(callCtx context.Context) error {
		return e.client.CreateIdentity(callCtx, e.project, name, identityType, env)
	}); err != nil {
		return &ResourceError{Code: ErrCodeRemoteApply, Ref: a.Ref(), Err: err}
	}
	return nil
}

// applyBinding fans out to one remote call per path in the combined
// read/write list, read paths first. Each path outcome is tracked so a
// partial failure inside one binding stays visible.
func (e *Engine) applyBinding(ctx context.Context, a *artifact.Artifact, mode Mode) ([]PathOutcome, error) {
	identity, _ := a.Spec["identity"].(string)
	if identity == "" {
		identity = a.Metadata.Name
	}
	role, _ := a.Spec["project_role"].(string)
	if role == "" {
		return nil, &ResourceError{
			Code: ErrCodeMissingField,
			Ref:  a.Ref(),
			Err:  fmt.Errorf("binding has no project_role"),
		}
	}

	paths := bindingPaths(a)
	e.logger.Debug("applying binding", "identity", identity, "role", role, "paths", len(paths))

	outcomes := make([]PathOutcome, 0, len(paths))
	for _, path := range paths {
		po := PathOutcome{Path: path}
		if mode == ModeApply {
			if err := e.call(ctx, func(callCtx context.Context) error {
				return e.client.CreateBinding(callCtx, e.project, identity, role, path)
			}); err != nil {
				po.Err = &ResourceError{Code: ErrCodeRemoteApply, Ref: a.Ref(), Path: path, Err: err}
			}
		}
		outcomes = append(outcomes, po)
	}
	return outcomes, nil
}

// call bounds one remote call with the engine's timeout.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return fn(callCtx)
}

func identityTypeOf(a *artifact.Artifact) string {
	auth, _ := a.Spec["auth"].(map[string]any)
	for _, key := range []string{"method", "type"} {
		if t, ok := auth[key].(string); ok && t != "" {
			return t
		}
	}
	return "universal-auth"
}

// bindingPaths returns the combined read/write path list in declared
// order: read paths, then write paths.
func bindingPaths(a *artifact.Artifact) []string {
	perms, _ := a.Spec["permissions"].(map[string]any)
	var paths []string
	for _, key := range []string{"read_paths", "write_paths"} {
		list, _ := perms[key].([]any)
		for _, v := range list {
			if s, ok := v.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	return paths
}
