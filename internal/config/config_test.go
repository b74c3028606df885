package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.Sandbox.Backend != "auto" {
		t.Errorf("default backend = %q, want auto", cfg.Sandbox.Backend)
	}
	if cfg.Gate.RiskThreshold != 0.6 {
		t.Errorf("default risk threshold = %v, want 0.6", cfg.Gate.RiskThreshold)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sandbox:
  backend: docker
  timeout: 30s
  memory_limit: 256m
gate:
  risk_threshold: 0.5
  coverage_threshold: 70
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Sandbox.Backend != "docker" {
		t.Errorf("backend = %q, want docker", cfg.Sandbox.Backend)
	}
	if cfg.Sandbox.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Sandbox.Timeout)
	}
	if cfg.Gate.RiskThreshold != 0.5 {
		t.Errorf("risk threshold = %v, want 0.5", cfg.Gate.RiskThreshold)
	}
	// Unset fields keep their defaults.
	if cfg.Gate.MaxCoverageDrop != 5.0 {
		t.Errorf("max coverage drop = %v, want default 5", cfg.Gate.MaxCoverageDrop)
	}
	if cfg.Sandbox.MaxConcurrent != 100 {
		t.Errorf("max concurrent = %d, want default 100", cfg.Sandbox.MaxConcurrent)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Sandbox.Backend = "podman" }},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }},
		{"negative timeout", func(c *Config) { c.Sandbox.Timeout = -time.Second }},
		{"zero concurrency", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }},
		{"bad memory limit", func(c *Config) { c.Sandbox.MemoryLimit = "lots" }},
		{"zero cpu", func(c *Config) { c.Sandbox.CPULimit = 0 }},
		{"coverage threshold over 100", func(c *Config) { c.Gate.CoverageThreshold = 101 }},
		{"negative coverage drop", func(c *Config) { c.Gate.MaxCoverageDrop = -1 }},
		{"risk threshold over 1", func(c *Config) { c.Gate.RiskThreshold = 1.1 }},
		{"zero weights", func(c *Config) { c.Gate.Weights.Coverage = 0; c.Gate.Weights.Performance = 0; c.Gate.Weights.Security = 0; c.Gate.Weights.Breaking = 0 }},
		{"bad sample rate", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Sample = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
