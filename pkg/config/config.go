package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the engine's process-wide configuration, loaded once at start.
type Config struct {
	GCP    GCPConfig    `toml:"gcp"`
	Engine EngineConfig `toml:"engine"`
	Agent  AgentConfig  `toml:"agent"`
}

// GCPConfig selects the document store backend.
type GCPConfig struct {
	ProjectID string `toml:"project_id"`
	Region    string `toml:"region"`
	// Store is "firestore" or "memory". Memory mode needs no credentials
	// and is what local runs and tests use.
	Store string `toml:"store"`
}

// EngineConfig bounds the orchestration loop.
type EngineConfig struct {
	WorkerPoolSize   int    `toml:"worker_pool_size"`
	LeaseTTLSeconds  int    `toml:"lease_ttl_seconds"`
	CacheTTLSeconds  int    `toml:"cache_ttl_seconds"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
	DeliveryTopic    string `toml:"delivery_topic"`
	ReviewTopic      string `toml:"review_topic"`
}

// AgentConfig configures the generation capability.
type AgentConfig struct {
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Default returns the configuration the engine runs with when no file or
// environment overrides are present.
func Default() Config {
	return Config{
		GCP: GCPConfig{
			Region: "us-central1",
			Store:  "firestore",
		},
		Engine: EngineConfig{
			WorkerPoolSize:   8,
			LeaseTTLSeconds:  600,
			CacheTTLSeconds:  86400,
			RetryMaxAttempts: 3,
			DeliveryTopic:    "council-deliveries",
			ReviewTopic:      "council-reviews",
		},
		Agent: AgentConfig{
			Model:          "claude-sonnet-4",
			TimeoutSeconds: 120,
		},
	}
}

// Load reads configuration from path (if non-empty), layered over defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.GCP.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_REGION"); v != "" {
		cfg.GCP.Region = v
	}
	if v := os.Getenv("COUNCIL_STORE"); v != "" {
		cfg.GCP.Store = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.GCP.Store != "memory" && c.GCP.ProjectID == "" {
		return fmt.Errorf("gcp.project_id is required when store is %q", c.GCP.Store)
	}
	if c.Engine.WorkerPoolSize <= 0 {
		return fmt.Errorf("engine.worker_pool_size must be positive, got %d", c.Engine.WorkerPoolSize)
	}
	if c.Engine.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("engine.lease_ttl_seconds must be positive, got %d", c.Engine.LeaseTTLSeconds)
	}
	return nil
}

// LeaseTTL returns the idempotency lease expiry as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Engine.LeaseTTLSeconds) * time.Second
}

// CacheTTL returns the context cache freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Engine.CacheTTLSeconds) * time.Second
}
