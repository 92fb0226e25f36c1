package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.WorkerPoolSize != 8 {
		t.Errorf("worker pool = %d, want 8", cfg.Engine.WorkerPoolSize)
	}
	if cfg.LeaseTTL() != 10*time.Minute {
		t.Errorf("lease TTL = %v, want 10m", cfg.LeaseTTL())
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Errorf("cache TTL = %v, want 24h", cfg.CacheTTL())
	}
	if cfg.Agent.Model != "claude-sonnet-4" {
		t.Errorf("model = %s, want claude-sonnet-4", cfg.Agent.Model)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.toml")
	body := `
[gcp]
store = "memory"

[engine]
worker_pool_size = 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GCP.Store != "memory" {
		t.Errorf("store = %s, want memory", cfg.GCP.Store)
	}
	if cfg.Engine.WorkerPoolSize != 4 {
		t.Errorf("worker pool = %d, want the file's 4", cfg.Engine.WorkerPoolSize)
	}
	// Untouched sections keep their defaults
	if cfg.Engine.LeaseTTLSeconds != 600 {
		t.Errorf("lease ttl = %d, want the default 600", cfg.Engine.LeaseTTLSeconds)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.toml")
	body := `
[gcp]
project_id = "from-file"
store = "firestore"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GOOGLE_CLOUD_PROJECT", "from-env")
	t.Setenv("COUNCIL_STORE", "memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GCP.ProjectID != "from-env" {
		t.Errorf("project = %s, want from-env", cfg.GCP.ProjectID)
	}
	if cfg.GCP.Store != "memory" {
		t.Errorf("store = %s, want memory", cfg.GCP.Store)
	}
}

func TestValidateRequiresProjectForFirestore(t *testing.T) {
	cfg := Default()
	cfg.GCP.ProjectID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("firestore mode without a project id should fail validation")
	}

	cfg.GCP.Store = "memory"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory mode should not need a project id: %v", err)
	}
}

func TestValidateRejectsBadPool(t *testing.T) {
	cfg := Default()
	cfg.GCP.Store = "memory"
	cfg.Engine.WorkerPoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero worker pool should fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("loading a nonexistent file should fail")
	}
}
