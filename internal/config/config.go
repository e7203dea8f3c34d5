// Package config declares every recognized configuration field once, with
// its default, and validates the whole document at load time. Access sites
// read typed fields; there is no per-site defaulting.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Policy source kinds.
const (
	SourceCUE = "cue"
	SourceOPA = "opa"
)

// Config is the full configuration schema for fabricctl.
type Config struct {
	// OutDir is the artifact store root. Default ".out".
	OutDir string `toml:"out_dir"`

	// PolicySource selects the policy engine: "cue" or "opa". Default "cue".
	PolicySource string `toml:"policy_source"`

	// PolicyDir is the policy data directory. Default "data".
	PolicyDir string `toml:"policy_dir"`

	// HistoryDB is the optional run-history database path. Empty disables
	// history recording.
	HistoryDB string `toml:"history_db"`

	// CallTimeoutSeconds bounds each remote call. Default 30.
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`

	// Parallelism bounds concurrent applies within a stage. Default 1.
	Parallelism int `toml:"parallelism"`

	// FailFast stops a run after the first failing stage instead of the
	// default best-effort policy. Default false.
	FailFast bool `toml:"fail_fast"`

	Infisical InfisicalConfig `toml:"infisical"`
	Supabase  SupabaseConfig  `toml:"supabase"`
}

// InfisicalConfig configures the Infisical adapter.
type InfisicalConfig struct {
	// Binary is the CLI binary name or path. Default "infisical".
	Binary string `toml:"binary"`

	// ConfigPath is exported as INFISICAL_CONFIG for the CLI.
	ConfigPath string `toml:"config_path"`
}

// SupabaseConfig configures the Supabase adapter.
type SupabaseConfig struct {
	// URL is the project's management API base URL.
	URL string `toml:"url"`

	// ServiceKey authenticates management API calls.
	ServiceKey string `toml:"service_key"`

	// DatabaseDSN is the optional direct Postgres connection for RLS
	// statements and table discovery.
	DatabaseDSN string `toml:"database_dsn"`

	// Tables is the fallback table list for RLS when no database
	// connection is configured. Default ["posts", "users"].
	Tables []string `toml:"tables"`

	// FunctionsRoot is where edge functions are discovered. Default
	// "supabase/functions".
	FunctionsRoot string `toml:"functions_root"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		OutDir:             ".out",
		PolicySource:       SourceCUE,
		PolicyDir:          "data",
		CallTimeoutSeconds: 30,
		Parallelism:        1,
		Infisical:          InfisicalConfig{Binary: "infisical"},
		Supabase: SupabaseConfig{
			Tables:        []string{"posts", "users"},
			FunctionsRoot: "supabase/functions",
		},
	}
}

// Load reads a TOML config file over the defaults and validates it.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unrecognized config key %q", undecoded[0].String())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PolicySource != SourceCUE && c.PolicySource != SourceOPA {
		return fmt.Errorf("policy_source must be %q or %q, got %q", SourceCUE, SourceOPA, c.PolicySource)
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir must not be empty")
	}
	if c.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("call_timeout_seconds must be positive, got %d", c.CallTimeoutSeconds)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}
