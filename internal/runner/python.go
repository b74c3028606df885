package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"patchgate/internal/coverage"
	"patchgate/internal/sandbox"
)

const pythonImage = "docker.io/library/python:3.12-slim"

const pythonSmokeTest = `import main  # noqa: F401


def test_smoke():
    """Verifies the module imports and the test runner executes."""
    assert True
`

// PythonRunner executes Python code with pytest-based testing and
// pytest-cov coverage extraction.
type PythonRunner struct {
	backend  sandbox.Backend
	analyzer *coverage.Analyzer
}

func NewPythonRunner(backend sandbox.Backend, analyzer *coverage.Analyzer) *PythonRunner {
	return &PythonRunner{backend: backend, analyzer: analyzer}
}

func (p *PythonRunner) Language() string { return "python" }

func (p *PythonRunner) SupportsCoverage() bool { return true }

// PrepareWorkspace writes the entry module, a requirements manifest when the
// request does not already carry one, and a smoke test when the tests path
// would otherwise collect nothing.
func (p *PythonRunner) PrepareWorkspace(req *sandbox.ExecutionRequest, ws *sandbox.Workspace) error {
	if err := ws.WriteFile("main.py", req.Code); err != nil {
		return err
	}

	if _, hasManifest := req.Files["requirements.txt"]; !hasManifest {
		if err := ws.WriteFile("requirements.txt", generateRequirements(req.Code)); err != nil {
			return err
		}
	}

	if req.TestCommand != "" && !strings.Contains(req.Code, "def test_") {
		if err := ws.WriteFile("test_smoke.py", pythonSmokeTest); err != nil {
			return err
		}
	}

	return nil
}

// generateRequirements detects common third-party imports from the source
// text and pins the matching packages.
func generateRequirements(code string) string {
	deps := []struct{ ident, requirement string }{
		{"import requests", "requests==2.32.3"},
		{"import numpy", "numpy==2.1.0"},
		{"import pandas", "pandas==2.2.2"},
		{"from flask", "flask==3.0.3"},
		{"import flask", "flask==3.0.3"},
	}

	seen := make(map[string]bool)
	var b strings.Builder
	for _, dep := range deps {
		if strings.Contains(code, dep.ident) && !seen[dep.requirement] {
			seen[dep.requirement] = true
			b.WriteString(dep.requirement + "\n")
		}
	}
	return b.String()
}

// Run installs dependencies then executes the entry module. Install failure
// returns immediately.
func (p *PythonRunner) Run(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	ws, err := sandbox.NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	if err := p.PrepareWorkspace(req, ws); err != nil {
		return nil, err
	}

	install, err := p.installDeps(ctx, req, cfg, ws)
	if err != nil || (install != nil && !install.Success) {
		return install, err
	}

	return p.step(ctx, req, cfg, ws, "python main.py")
}

// RunTests installs dependencies plus pytest-cov, runs the coverage-
// instrumented test command, and parses the terminal coverage table.
func (p *PythonRunner) RunTests(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	ws, err := sandbox.NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	if err := p.PrepareWorkspace(req, ws); err != nil {
		return nil, err
	}

	install, err := p.installDeps(ctx, req, cfg, ws)
	if err != nil || (install != nil && !install.Success) {
		return install, err
	}

	tooling, err := p.step(ctx, req, cfg, ws, "pip install --quiet pytest pytest-cov")
	if err != nil || !tooling.Success {
		return tooling, err
	}

	testCmd := req.TestCommand
	if testCmd == "" {
		testCmd = "python -m pytest --cov=. --cov-report=term -v"
	}

	result, err := p.step(ctx, req, cfg, ws, testCmd)
	if err != nil {
		return nil, err
	}

	if result.Success {
		report, perr := p.analyzer.ParseOutput(result.Stdout, "pytest-cov")
		if perr != nil {
			log.Warn().Err(perr).Msg("coverage parse failed")
		} else {
			result.Coverage = report
		}
	}

	return result, nil
}

// installDeps runs pip against the requirements manifest. An empty manifest
// skips the step entirely; pulling pip for nothing wastes the time budget.
func (p *PythonRunner) installDeps(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config, ws *sandbox.Workspace) (*sandbox.ExecutionResult, error) {
	manifest, err := ws.ReadFile("requirements.txt")
	if err != nil || strings.TrimSpace(manifest) == "" {
		return &sandbox.ExecutionResult{Success: true}, nil
	}
	return p.step(ctx, req, cfg, ws, "pip install --quiet -r requirements.txt")
}

func (p *PythonRunner) step(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config, ws *sandbox.Workspace, command string) (*sandbox.ExecutionResult, error) {
	stepReq := &sandbox.ExecutionRequest{
		Code:        command,
		Language:    p.Language(),
		Environment: withPythonEnv(req.Environment),
		Image:       pythonImage,
	}
	result, err := p.backend.ExecuteInDir(ctx, stepReq, cfg, ws.Dir)
	if err != nil {
		return nil, fmt.Errorf("python step %q: %w", command, err)
	}
	return result, nil
}

// withPythonEnv keeps bytecode and pip caches inside the workspace mount.
func withPythonEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	if _, ok := out["PYTHONDONTWRITEBYTECODE"]; !ok {
		out["PYTHONDONTWRITEBYTECODE"] = "1"
	}
	if _, ok := out["PIP_CACHE_DIR"]; !ok {
		out["PIP_CACHE_DIR"] = "/workspace/.pip-cache"
	}
	return out
}
