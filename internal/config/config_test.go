package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Relay.AnonymizeConcurrency != 3 || cfg.Relay.SendConcurrency != 2 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Storage.Binary != BackendFile || cfg.NeedsDatabase() {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("STORAGE_METADATA", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("RELAY_FAILURE_MODE", "fail-fast")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Metadata != BackendRedis || cfg.Redis.Addr != "cache:6379" {
		t.Errorf("storage = %+v redis = %+v", cfg.Storage, cfg.Redis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := "storage:\n  binary: minio\nminio:\n  endpoint: minio:9000\n  bucket: studies\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Binary != BackendMinio || cfg.MinIO.Endpoint != "minio:9000" || cfg.MinIO.Bucket != "studies" {
		t.Errorf("config = %+v", cfg.MinIO)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown binary", func(c *Config) { c.Storage.Binary = "s3" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Binary = BackendMinio; c.MinIO.Endpoint = "" }},
		{"unknown metadata", func(c *Config) { c.Storage.Metadata = "etcd" }},
		{"file without dir", func(c *Config) { c.Storage.Dir = "" }},
		{"zero concurrency", func(c *Config) { c.Relay.SendConcurrency = 0 }},
		{"bad failure mode", func(c *Config) { c.Relay.FailureMode = "retry" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}
