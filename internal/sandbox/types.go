package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"patchgate/internal/coverage"
)

// ExecutionRequest is the immutable input to one execution. Code is a command
// line, pre-escaped by the caller; language runners fill it with toolchain
// commands and set Image to their toolchain image.
type ExecutionRequest struct {
	Code             string            `json:"code"`
	Language         string            `json:"language"`
	TestCommand      string            `json:"test_command,omitempty"`
	Files            map[string]string `json:"files,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Image            string            `json:"image,omitempty"`
}

// Config holds per-run sandbox ceilings. Process-wide defaults come from
// DefaultSandboxConfig and are overridable per call; never mutated
// mid-execution.
type Config struct {
	Timeout        time.Duration `json:"timeout"`
	MemoryLimit    string        `json:"memory_limit"` // docker-style, e.g. "512m"
	CPULimit       float64       `json:"cpu_limit"`
	NetworkEnabled bool          `json:"network_enabled"`
	TempDir        string        `json:"temp_dir"`
}

// DefaultSandboxConfig returns the process-wide default ceilings.
func DefaultSandboxConfig() Config {
	return Config{
		Timeout:        5 * time.Minute,
		MemoryLimit:    "512m",
		CPULimit:       1.0,
		NetworkEnabled: false,
		TempDir:        filepath.Join(os.TempDir(), "patchgate"),
	}
}

// ExecutionResult is created once per execution and immutable thereafter.
// Success=false with captured output means "ran and failed"; a returned error
// means "could not run".
type ExecutionResult struct {
	Success       bool             `json:"success"`
	ExitCode      int              `json:"exit_code"`
	Stdout        string           `json:"stdout"`
	Stderr        string           `json:"stderr"`
	ExecutionTime time.Duration    `json:"execution_time"`
	MemoryUsed    *int64           `json:"memory_used,omitempty"`
	Coverage      *coverage.Report `json:"coverage,omitempty"`
	Artifacts     []Artifact       `json:"artifacts,omitempty"`
}

// ArtifactType classifies a file produced during a run.
type ArtifactType string

const (
	ArtifactLog        ArtifactType = "log"
	ArtifactCoverage   ArtifactType = "coverage"
	ArtifactTestReport ArtifactType = "test_report"
	ArtifactBinary     ArtifactType = "binary"
	ArtifactOutput     ArtifactType = "output"
)

// Artifact is a file produced during a run and retained for inspection.
// Downstream persistence references it; it is not owned here.
type Artifact struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Type      ArtifactType `json:"artifact_type"`
	SizeBytes int64        `json:"size_bytes"`
}

// Backend runs one command line inside an isolated runtime and returns a
// bounded-time result. Implementations must be safe for unbounded concurrent
// use: every invocation gets its own workspace and runtime instance.
type Backend interface {
	// Execute runs the request in a fresh per-invocation workspace.
	Execute(ctx context.Context, req *ExecutionRequest, cfg Config) (*ExecutionResult, error)

	// ExecuteInDir runs the request against a caller-owned workspace so that
	// multiple steps of one language-runner call share state.
	ExecuteInDir(ctx context.Context, req *ExecutionRequest, cfg Config, hostDir string) (*ExecutionResult, error)

	// Close shuts the backend down, draining active executions.
	Close() error
}
