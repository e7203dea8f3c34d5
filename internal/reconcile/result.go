package reconcile

import "github.com/verlyn13/fabricctl/internal/artifact"

// PathOutcome is the result of one path within a binding's fan-out.
type PathOutcome struct {
	Path string
	Err  error
}

// ResourceOutcome is the result of applying one artifact. For bindings,
// Paths holds the per-path roll-up; the resource fails if any path failed.
type ResourceOutcome struct {
	Stage Stage
	Ref   artifact.Ref
	Err   error
	Paths []PathOutcome
}

// Failed reports whether the resource failed, including partial path
// failure within a binding.
func (r *ResourceOutcome) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, p := range r.Paths {
		if p.Err != nil {
			return true
		}
	}
	return false
}

// Result is the value returned fresh from each reconciliation call. It is
// never retained by the engine, so reconciliations of different projects
// can run concurrently without shared accumulators.
type Result struct {
	RunID     string
	Project   string
	DryRun    bool
	Applied   []artifact.Ref
	Failed    []artifact.Ref
	Resources []ResourceOutcome
}

// OK is true iff nothing failed. Callers map OK to process exit status.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}
