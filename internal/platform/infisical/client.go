// Package infisical issues identity-fabric mutations through the Infisical
// CLI. Each capability maps to one `infisical ... create` invocation.
package infisical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Client runs the Infisical CLI. The binary must be on PATH; an optional
// config file reference is exported to the subprocess environment.
type Client struct {
	binary     string
	configPath string
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the CLI binary path.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// WithConfig sets the INFISICAL_CONFIG reference passed to the CLI.
func WithConfig(path string) Option {
	return func(c *Client) { c.configPath = path }
}

// NewClient creates a CLI-backed client.
func NewClient(opts ...Option) *Client {
	c := &Client{binary: "infisical"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.configPath != "" {
		cmd.Env = append(cmd.Environ(), "INFISICAL_CONFIG="+c.configPath)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("infisical %s: %s", args[0], msg)
		}
		return fmt.Errorf("infisical %s: %w", args[0], err)
	}
	return nil
}

// CreateRole creates a role with its permission set.
func (c *Client) CreateRole(ctx context.Context, project, name string, permissions map[string]any) error {
	perms, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("encoding permissions for role %s: %w", name, err)
	}
	return c.run(ctx, "roles", "create",
		"--name", name,
		"--project", project,
		"--permissions", string(perms),
	)
}

// CreateIdentity creates a machine identity.
func (c *Client) CreateIdentity(ctx context.Context, project, name, identityType, env string) error {
	return c.run(ctx, "identities", "create",
		"--name", name,
		"--type", identityType,
		"--project", project,
		"--environment", env,
	)
}

// CreateBinding binds identity to role for one path.
func (c *Client) CreateBinding(ctx context.Context, project, identity, role, path string) error {
	return c.run(ctx, "bindings", "create",
		"--identity", identity,
		"--role", role,
		"--path", path,
		"--project", project,
	)
}
