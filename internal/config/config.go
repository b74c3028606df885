// Package config loads and validates the YAML configuration for the
// execution pipeline and the risk gate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"patchgate/internal/risk"
	"patchgate/internal/sandbox"
)

// Config holds all application configuration.
type Config struct {
	Sandbox SandboxConfig   `yaml:"sandbox"`
	Gate    risk.GateConfig `yaml:"gate"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Tracing TracingConfig   `yaml:"tracing"`
}

type SandboxConfig struct {
	Backend          string        `yaml:"backend"` // "auto" (default), "containerd", or "docker"
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	Timeout          time.Duration `yaml:"timeout"`
	MemoryLimit      string        `yaml:"memory_limit"`
	CPULimit         float64       `yaml:"cpu_limit"`
	NetworkEnabled   bool          `yaml:"network_enabled"`
	TempDir          string        `yaml:"temp_dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	sb := sandbox.DefaultSandboxConfig()
	return &Config{
		Sandbox: SandboxConfig{
			Backend:          "auto",
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "patchgate",
			MaxConcurrent:    100,
			Timeout:          sb.Timeout,
			MemoryLimit:      sb.MemoryLimit,
			CPULimit:         sb.CPULimit,
			NetworkEnabled:   sb.NetworkEnabled,
			TempDir:          sb.TempDir,
		},
		Gate: risk.DefaultGateConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case "", "auto", "containerd", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, or docker, got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if _, err := sandbox.ParseMemoryLimit(c.Sandbox.MemoryLimit); err != nil {
		return fmt.Errorf("sandbox.memory_limit: %w", err)
	}
	if c.Sandbox.CPULimit <= 0 {
		return fmt.Errorf("sandbox.cpu_limit must be positive, got %g", c.Sandbox.CPULimit)
	}
	if c.Gate.CoverageThreshold < 0 || c.Gate.CoverageThreshold > 100 {
		return fmt.Errorf("gate.coverage_threshold must be 0-100, got %g", c.Gate.CoverageThreshold)
	}
	if c.Gate.MaxCoverageDrop < 0 {
		return fmt.Errorf("gate.max_coverage_drop must be >= 0, got %g", c.Gate.MaxCoverageDrop)
	}
	if c.Gate.RiskThreshold < 0 || c.Gate.RiskThreshold > 1 {
		return fmt.Errorf("gate.risk_threshold must be 0-1, got %g", c.Gate.RiskThreshold)
	}
	w := c.Gate.Weights
	if w.Coverage+w.Performance+w.Security+w.Breaking <= 0 {
		return fmt.Errorf("gate.weights must have a positive sum")
	}
	if c.Tracing.Enabled && (c.Tracing.Sample < 0 || c.Tracing.Sample > 1) {
		return fmt.Errorf("tracing.sample_rate must be 0-1, got %g", c.Tracing.Sample)
	}
	return nil
}

// SandboxRunConfig projects the file configuration into per-run sandbox
// ceilings.
func (c *Config) SandboxRunConfig() sandbox.Config {
	return sandbox.Config{
		Timeout:        c.Sandbox.Timeout,
		MemoryLimit:    c.Sandbox.MemoryLimit,
		CPULimit:       c.Sandbox.CPULimit,
		NetworkEnabled: c.Sandbox.NetworkEnabled,
		TempDir:        c.Sandbox.TempDir,
	}
}

// BackendOptions projects the file configuration into backend selection
// options.
func (c *Config) BackendOptions() sandbox.BackendOptions {
	return sandbox.BackendOptions{
		Preference:       c.Sandbox.Backend,
		ContainerdSocket: c.Sandbox.ContainerdSocket,
		Namespace:        c.Sandbox.Namespace,
		MaxConcurrent:    c.Sandbox.MaxConcurrent,
	}
}
