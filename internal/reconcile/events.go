package reconcile

import "github.com/verlyn13/fabricctl/internal/artifact"

// Stage is one ordered phase of reconciliation. Stage-to-stage ordering is
// a hard barrier: Identities never starts before every Role in the run has
// been attempted, and Bindings never starts before every Identity.
type Stage string

const (
	StageRoles      Stage = "Roles"
	StageIdentities Stage = "Identities"
	StageBindings   Stage = "Bindings"
)

// stageOrder is fixed and must not be reordered: a binding's remote
// creation requires the referenced identity and role to already exist.
var stageOrder = []struct {
	Stage Stage
	Kind  artifact.Kind
}{
	{StageRoles, artifact.KindProjectRole},
	{StageIdentities, artifact.KindMachineIdentity},
	{StageBindings, artifact.KindProjectBinding},
}

// Outcome of one resource or path application.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
)

// Event is one entry in the reconciliation trace: a resource (or one path
// of a binding) reaching an outcome in a stage. The engine emits events in
// deterministic order; callers render them to console, log, or assertion.
type Event struct {
	RunID    string
	Project  string
	Stage    Stage
	Resource artifact.Ref
	Path     string // set on per-path binding events
	Outcome  Outcome
	Err      string // set when Outcome is failed
	DryRun   bool
}

// EventSink consumes reconciliation events.
type EventSink interface {
	Emit(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// RecordingSink captures events for tests and reporting.
type RecordingSink struct {
	Events []Event
}

func (s *RecordingSink) Emit(e Event) {
	s.Events = append(s.Events, e)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
