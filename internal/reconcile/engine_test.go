package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/platform"
	"github.com/verlyn13/fabricctl/internal/store"
)

func testRole(slug, name string) *artifact.Artifact {
	return &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindProjectRole,
		Metadata:   artifact.Metadata{Name: name, Slug: slug},
		Spec:       map[string]any{"permissions": map[string]any{"read": true}},
	}
}

func testIdentity(name, env string) *artifact.Artifact {
	return &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindMachineIdentity,
		Metadata:   artifact.Metadata{Name: name, Labels: map[string]string{"env": env}},
		Spec: map[string]any{
			"project_role": "viewer",
			"auth":         map[string]any{"method": "universal-auth"},
		},
	}
}

func testBinding(name string, readPaths, writePaths []any) *artifact.Artifact {
	return &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindProjectBinding,
		Metadata:   artifact.Metadata{Name: name, Environment: "prod"},
		Spec: map[string]any{
			"identity":     name,
			"project_role": "viewer",
			"permissions": map[string]any{
				"read_paths":  readPaths,
				"write_paths": writePaths,
			},
		},
	}
}

func loadResult(t *testing.T, artifacts ...*artifact.Artifact) *store.LoadResult {
	t.Helper()
	set := artifact.NewSet()
	for _, a := range artifacts {
		require.NoError(t, set.Add(a))
	}
	return &store.LoadResult{Set: set}
}

func newTestEngine(rec *platform.Recorder, opts ...Option) *Engine {
	opts = append([]Option{
		WithRunTokenGenerator(&FixedGenerator{Prefix: "run"}),
	}, opts...)
	return New("acme", rec, opts...)
}

func refNames(rs []artifact.Ref) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func TestReconcile_AppliesInStageOrder(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	load := loadResult(t,
		testBinding("ci-bot", []any{"/app/*"}, []any{"/app/ci/*"}),
		testIdentity("ci-bot", "prod"),
		testRole("viewer", "Viewer"),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.True(t, result.OK())
	assert.Equal(t, "run-001", result.RunID)
	assert.Equal(t,
		[]string{"ProjectRole/viewer", "MachineIdentity/ci-bot", "ProjectBinding/ci-bot"},
		refNames(result.Applied))
	assert.Empty(t, result.Failed)

	// Remote calls follow stage order: the binding's calls never precede
	// the identity's, which never precede the role's.
	calls := rec.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "CreateRole", calls[0].Op)
	assert.Equal(t, "CreateIdentity", calls[1].Op)
	assert.Equal(t, "CreateBinding", calls[2].Op)
	assert.Equal(t, "CreateBinding", calls[3].Op)
}

func TestReconcile_BindingFansOutPerPath(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
		testBinding("ci-bot", []any{"/app/*", "/shared/*"}, []any{"/app/ci/*"}),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)
	require.True(t, result.OK())

	bindings := rec.CallsFor("CreateBinding")
	require.Len(t, bindings, 3)
	// Read paths first, then write paths, in declared order.
	assert.Equal(t, []string{"acme", "ci-bot", "viewer", "/app/*"}, bindings[0].Args)
	assert.Equal(t, []string{"acme", "ci-bot", "viewer", "/shared/*"}, bindings[1].Args)
	assert.Equal(t, []string{"acme", "ci-bot", "viewer", "/app/ci/*"}, bindings[2].Args)
}

func TestReconcile_DryRunIssuesNoCalls(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
		testBinding("ci-bot", []any{"/app/*"}, nil),
	)

	result := engine.Reconcile(context.Background(), load, ModeDryRun)

	require.True(t, result.DryRun)
	require.True(t, result.OK())
	// Dry run reports the same applied set an apply would.
	assert.Equal(t,
		[]string{"ProjectRole/viewer", "MachineIdentity/ci-bot", "ProjectBinding/ci-bot"},
		refNames(result.Applied))
	assert.Empty(t, rec.Calls(), "dry run must not touch the platform")
}

func TestReconcile_FailureIsIsolatedPerResource(t *testing.T) {
	rec := platform.NewRecorder()
	rec.FailOn["CreateIdentity acme ci-bot universal-auth prod"] = errors.New("boom")
	engine := newTestEngine(rec)

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
		testIdentity("deploy-bot", "stg"),
		testBinding("ci-bot", []any{"/app/*"}, nil),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.False(t, result.OK())
	assert.Equal(t, []string{"MachineIdentity/ci-bot"}, refNames(result.Failed))
	// The sibling identity and the later stage still ran.
	assert.Equal(t,
		[]string{"ProjectRole/viewer", "MachineIdentity/deploy-bot", "ProjectBinding/ci-bot"},
		refNames(result.Applied))
	assert.Len(t, rec.CallsFor("CreateBinding"), 1)
}

func TestReconcile_PartialPathFailureFailsBinding(t *testing.T) {
	rec := platform.NewRecorder()
	rec.FailOn["CreateBinding acme ci-bot viewer /shared/*"] = errors.New("denied")
	engine := newTestEngine(rec)

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
		testBinding("ci-bot", []any{"/app/*", "/shared/*"}, nil),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.False(t, result.OK())
	assert.Equal(t, []string{"ProjectBinding/ci-bot"}, refNames(result.Failed))

	// Both paths were attempted; the per-path outcomes keep the split.
	var binding *ResourceOutcome
	for i := range result.Resources {
		if result.Resources[i].Ref.Kind == artifact.KindProjectBinding {
			binding = &result.Resources[i]
		}
	}
	require.NotNil(t, binding)
	require.Len(t, binding.Paths, 2)
	assert.NoError(t, binding.Paths[0].Err)
	require.Error(t, binding.Paths[1].Err)
	assert.True(t, IsRemoteApplyError(binding.Paths[1].Err))
}

func TestReconcile_MissingRoleInBinding(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	b := testBinding("ci-bot", []any{"/app/*"}, nil)
	delete(b.Spec, "project_role")

	result := engine.Reconcile(context.Background(), loadResult(t, b), ModeApply)

	require.False(t, result.OK())
	assert.Equal(t, []string{"ProjectBinding/ci-bot"}, refNames(result.Failed))
	assert.Empty(t, rec.Calls(), "a binding without a role must not reach the platform")
}

func TestReconcile_MalformedFilesAreFailedResources(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	load := loadResult(t, testRole("viewer", "Viewer"))
	load.Malformed = []store.MalformedArtifact{
		{File: "identity_broken.yaml", Kind: artifact.KindMachineIdentity, Err: fmt.Errorf("bad yaml")},
	}

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.False(t, result.OK())
	assert.Equal(t, []string{"ProjectRole/viewer"}, refNames(result.Applied))
	assert.Equal(t, []string{"MachineIdentity/identity_broken.yaml"}, refNames(result.Failed))
}

func TestReconcile_LexicographicOrderWithinStage(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	load := loadResult(t,
		testRole("writer", "Writer"),
		testRole("admin", "Admin"),
		testRole("viewer", "Viewer"),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.True(t, result.OK())
	assert.Equal(t,
		[]string{"ProjectRole/admin", "ProjectRole/viewer", "ProjectRole/writer"},
		refNames(result.Applied))
}

func TestReconcile_FailFastStopsAfterFailingStage(t *testing.T) {
	rec := platform.NewRecorder()
	rec.FailOn["CreateRole"] = errors.New("boom")
	engine := newTestEngine(rec, WithFailFast())

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)

	require.False(t, result.OK())
	assert.Empty(t, rec.CallsFor("CreateIdentity"), "fail-fast must not start the next stage")
}

func TestReconcile_EventsEmittedInDeterministicOrder(t *testing.T) {
	rec := platform.NewRecorder()
	sink := &RecordingSink{}
	engine := newTestEngine(rec, WithSink(sink))

	load := loadResult(t,
		testRole("viewer", "Viewer"),
		testIdentity("ci-bot", "prod"),
		testBinding("ci-bot", []any{"/app/*"}, nil),
	)

	result := engine.Reconcile(context.Background(), load, ModeApply)
	require.True(t, result.OK())

	// One event per role and identity; the binding gets a per-path event
	// before its resource event.
	require.Len(t, sink.Events, 4)
	assert.Equal(t, StageRoles, sink.Events[0].Stage)
	assert.Equal(t, StageIdentities, sink.Events[1].Stage)
	assert.Equal(t, "/app/*", sink.Events[2].Path)
	assert.Equal(t, StageBindings, sink.Events[3].Stage)
	assert.Empty(t, sink.Events[3].Path)
	for _, ev := range sink.Events {
		assert.Equal(t, "run-001", ev.RunID)
		assert.Equal(t, OutcomeApplied, ev.Outcome)
	}
}

func TestReconcile_ParallelStageKeepsDeterministicResults(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec, WithParallelism(4))

	var arts []*artifact.Artifact
	for i := 0; i < 8; i++ {
		arts = append(arts, testRole(fmt.Sprintf("role-%d", i), fmt.Sprintf("Role %d", i)))
	}

	result := engine.Reconcile(context.Background(), loadResult(t, arts...), ModeApply)

	require.True(t, result.OK())
	want := make([]string, 8)
	for i := range want {
		want[i] = fmt.Sprintf("ProjectRole/role-%d", i)
	}
	assert.Equal(t, want, refNames(result.Applied))
}

func TestReconcile_ResultsAreFreshPerRun(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)
	load := loadResult(t, testRole("viewer", "Viewer"))

	first := engine.Reconcile(context.Background(), load, ModeApply)
	second := engine.Reconcile(context.Background(), load, ModeApply)

	assert.Equal(t, "run-001", first.RunID)
	assert.Equal(t, "run-002", second.RunID)
	// No accumulation across runs.
	assert.Len(t, first.Applied, 1)
	assert.Len(t, second.Applied, 1)
}

func TestReconcile_IdentityTypeDefaults(t *testing.T) {
	rec := platform.NewRecorder()
	engine := newTestEngine(rec)

	ident := testIdentity("ci-bot", "prod")
	ident.Spec["auth"] = map[string]any{}

	result := engine.Reconcile(context.Background(), loadResult(t, ident), ModeApply)
	require.True(t, result.OK())

	calls := rec.CallsFor("CreateIdentity")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"acme", "ci-bot", "universal-auth", "prod"}, calls[0].Args)
}
