// Package supabase reconciles Supabase platform configuration from a
// rendered manifest, enforcing security policy before any call is issued.
package supabase

import "fmt"

// Security policy constants.
const (
	// MaxJWTExp is the longest allowed JWT expiry: 24 hours.
	MaxJWTExp = 86400

	// ServiceKeyMarker must never appear in a public variable name.
	ServiceKeyMarker = "SUPABASE_SERVICE_KEY"

	// PublicPrefix is the recognized public-variable name prefix.
	PublicPrefix = "NEXT_PUBLIC_SUPABASE_"
)

// Manifest is the typed Supabase configuration. Every recognized field is
// declared here with its default applied once at parse time, instead of
// defaulted ad hoc at each access site.
type Manifest struct {
	Auth        AuthConfig
	Database    DatabaseConfig
	Environment EnvironmentConfig
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret is a secret reference (e.g. "${JWT_SECRET}"), never a value.
	JWTSecret string

	// JWTExp is the token expiry in seconds.
	JWTExp int64

	// Providers lists the auth providers to configure, in declared order.
	Providers []string
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	RLSEnforced bool
	Schema      string
}

// EnvironmentConfig holds public environment variables.
type EnvironmentConfig struct {
	Public map[string]string
}

// ParseManifest builds a typed Manifest from the opaque manifest document,
// applying defaults: rls_enforced defaults to true, schema to "public".
func ParseManifest(doc map[string]any) (*Manifest, error) {
	m := &Manifest{
		Database: DatabaseConfig{RLSEnforced: true, Schema: "public"},
	}

	if auth, ok := doc["auth"].(map[string]any); ok {
		m.Auth.JWTSecret, _ = auth["jwt_secret"].(string)
		exp, err := intValue(auth["jwt_exp"])
		if err != nil {
			return nil, fmt.Errorf("auth.jwt_exp: %w", err)
		}
		m.Auth.JWTExp = exp
		if providers, ok := auth["providers"].([]any); ok {
			for i, p := range providers {
				s, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("auth.providers[%d]: not a string", i)
				}
				m.Auth.Providers = append(m.Auth.Providers, s)
			}
		}
	}

	if db, ok := doc["database"].(map[string]any); ok {
		if v, ok := db["rls_enforced"].(bool); ok {
			m.Database.RLSEnforced = v
		}
		if s, ok := db["schema"].(string); ok && s != "" {
			m.Database.Schema = s
		}
	}

	if env, ok := doc["environment"].(map[string]any); ok {
		if pub, ok := env["public"].(map[string]any); ok {
			m.Environment.Public = make(map[string]string, len(pub))
			for k, v := range pub {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("environment.public.%s: not a string", k)
				}
				m.Environment.Public[k] = s
			}
		}
	}

	return m, nil
}

func intValue(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
