// Package platform defines the capability interfaces the reconciliation
// engine issues remote calls through, plus a recording fake for tests.
//
// Adapters translate one artifact into one or more remote calls. None of
// the calls is required to be idempotent by the remote system: create-twice
// may error or duplicate remotely. Callers bound every call with a context
// deadline; a timed-out call is a failed resource, not a fatal error.
package platform

import "context"

// IdentityClient is the capability set for the identity-fabric target:
// roles, machine identities, and path-scoped bindings.
type IdentityClient interface {
	// CreateRole creates a role with its permission set, passed through
	// unmodified from the artifact.
	CreateRole(ctx context.Context, project, name string, permissions map[string]any) error

	// CreateIdentity creates a machine identity of the given type in the
	// given environment.
	CreateIdentity(ctx context.Context, project, name, identityType, env string) error

	// CreateBinding binds identity to role for one path. The engine issues
	// one call per path in a binding's combined read/write list and tracks
	// each outcome separately.
	CreateBinding(ctx context.Context, project, identity, role, path string) error
}

// ConfigClient is the capability set for the platform-configuration target.
type ConfigClient interface {
	// ConfigureAuthProvider enables one authentication provider.
	ConfigureAuthProvider(ctx context.Context, provider string) error

	// EnableRLS enables row-level security on one table.
	EnableRLS(ctx context.Context, schema, table string) error

	// SetPublicEnvVar sets one public environment variable.
	SetPublicEnvVar(ctx context.Context, key, value string) error

	// DeployFunction deploys one edge function by name.
	DeployFunction(ctx context.Context, name string) error
}
