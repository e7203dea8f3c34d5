package platform

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded remote call.
type Call struct {
	Op   string
	Args []string
}

func (c Call) String() string {
	s := c.Op
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// Recorder implements IdentityClient and ConfigClient by recording calls
// instead of issuing them. Tests inject failures by op or by full call
// string via FailOn.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// FailOn maps an op name ("CreateRole") or a full call string
	// ("CreateBinding proj bot viewer /app/*") to the error to return.
	FailOn map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{FailOn: make(map[string]error)}
}

// Calls returns a copy of the recorded calls in issue order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns the recorded calls for one op.
func (r *Recorder) CallsFor(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) record(op string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := Call{Op: op, Args: args}
	r.calls = append(r.calls, call)
	if err, ok := r.FailOn[call.String()]; ok {
		return err
	}
	if err, ok := r.FailOn[op]; ok {
		return err
	}
	return nil
}

func (r *Recorder) CreateRole(_ context.Context, project, name string, _ map[string]any) error {
	return r.record("CreateRole", project, name)
}

func (r *Recorder) CreateIdentity(_ context.Context, project, name, identityType, env string) error {
	return r.record("CreateIdentity", project, name, identityType, env)
}

func (r *Recorder) CreateBinding(_ context.Context, project, identity, role, path string) error {
	return r.record("CreateBinding", project, identity, role, path)
}

func (r *Recorder) ConfigureAuthProvider(_ context.Context, provider string) error {
	return r.record("ConfigureAuthProvider", provider)
}

func (r *Recorder) EnableRLS(_ context.Context, schema, table string) error {
	return r.record("EnableRLS", fmt.Sprintf("%s.%s", schema, table))
}

func (r *Recorder) SetPublicEnvVar(_ context.Context, key, value string) error {
	return r.record("SetPublicEnvVar", key, value)
}

func (r *Recorder) DeployFunction(_ context.Context, name string) error {
	return r.record("DeployFunction", name)
}
