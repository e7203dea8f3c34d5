package infisical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_MissingBinary(t *testing.T) {
	c := NewClient(WithBinary("definitely-not-a-real-binary"))

	err := c.CreateRole(context.Background(), "acme", "viewer", map[string]any{"read": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infisical roles")

	err = c.CreateIdentity(context.Background(), "acme", "ci-bot", "universal-auth", "prod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infisical identities")

	err = c.CreateBinding(context.Background(), "acme", "ci-bot", "viewer", "/app/*")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infisical bindings")
}

func TestClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient()
	err := c.CreateRole(ctx, "acme", "viewer", nil)
	require.Error(t, err)
}
