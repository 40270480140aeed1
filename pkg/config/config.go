// Package config provides unified configuration for the coda gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CODA_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the coda gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Limits        LimitsConfig        `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// ModelConfig holds model backend settings.
type ModelConfig struct {
	BackendURL  string        `yaml:"backend_url"`  // required
	APIKey      string        `yaml:"api_key"`      // optional
	APIKeyFile  string        `yaml:"api_key_file"` // _file variant for api_key
	Name        string        `yaml:"name"`         // model identifier, required
	Temperature float64       `yaml:"temperature"`  // default: 0
	MaxTokens   int           `yaml:"max_tokens"`   // default: 4096
	Timeout     time.Duration `yaml:"timeout"`      // per-call HTTP timeout, default: 120s
}

// SandboxConfig holds code execution settings.
type SandboxConfig struct {
	// Mode selects how sandbox endpoints are obtained: "static" uses a
	// fixed URL, "kubernetes" claims a fresh sandbox per execution.
	Mode string `yaml:"mode"` // default: "static"

	// URL is the sandbox server base URL for static mode.
	URL string `yaml:"url"`

	// Packages are installed before each execution.
	Packages []string `yaml:"packages"`

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig holds SandboxClaim settings for kubernetes mode.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`      // SandboxTemplate name, required in kubernetes mode
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ReadyTimeout time.Duration `yaml:"ready_timeout"` // default: 60s
}

// StorageConfig holds session persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", or "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // settings for type=jwt

	// RateLimits maps service tiers to requests per minute. Tiers not
	// listed fall back to DefaultRPM; zero means unlimited.
	RateLimits map[string]int `yaml:"rate_limits"`
	DefaultRPM int            `yaml:"default_rpm"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	SubjectClaim string        `yaml:"subject_claim"` // default: "sub"
	ScopesClaim  string        `yaml:"scopes_claim"`  // default: "scope"
	CacheTTL     time.Duration `yaml:"cache_ttl"`     // default: 1h
}

// LimitsConfig holds agent loop limits.
type LimitsConfig struct {
	MaxRounds     int           `yaml:"max_rounds"`     // default: 8
	ExecTimeout   time.Duration `yaml:"exec_timeout"`   // per code block, default: 30s
	HistoryWindow int           `yaml:"history_window"` // turns per model call, 0 = unlimited
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodySize:     10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Model: ModelConfig{
			MaxTokens: 4096,
			Timeout:   120 * time.Second,
		},
		Sandbox: SandboxConfig{
			Mode: "static",
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ReadyTimeout: 60 * time.Second,
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Limits: LimitsConfig{
			MaxRounds:   8,
			ExecTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
