package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"patchgate/internal/coverage"
	"patchgate/internal/sandbox"
)

const goImage = "docker.io/library/golang:1.24-alpine"

// goSmokeTest keeps the test runner from failing merely because no tests
// exist; genuine failures from author-provided tests still surface.
const goSmokeTest = `package main

import "testing"

func TestSmoke(t *testing.T) {
	// Verifies the package compiles and the test runner executes.
}
`

// GoRunner executes Go code: the reference statically-typed compiled language.
type GoRunner struct {
	backend  sandbox.Backend
	analyzer *coverage.Analyzer
}

func NewGoRunner(backend sandbox.Backend, analyzer *coverage.Analyzer) *GoRunner {
	return &GoRunner{backend: backend, analyzer: analyzer}
}

func (g *GoRunner) Language() string { return "go" }

func (g *GoRunner) SupportsCoverage() bool { return true }

// PrepareWorkspace writes the primary source file, synthesizes go.mod when
// the request does not already carry one, and injects a smoke test when the
// tests path would otherwise have nothing to run.
func (g *GoRunner) PrepareWorkspace(req *sandbox.ExecutionRequest, ws *sandbox.Workspace) error {
	if err := ws.WriteFile("main.go", req.Code); err != nil {
		return err
	}

	if _, hasManifest := req.Files["go.mod"]; !hasManifest {
		if err := ws.WriteFile("go.mod", generateGoMod(req.Code)); err != nil {
			return err
		}
	}

	if req.TestCommand != "" && !strings.Contains(req.Code, "func Test") {
		if err := ws.WriteFile("main_test.go", goSmokeTest); err != nil {
			return err
		}
	}

	return nil
}

// generateGoMod synthesizes a minimal manifest, detecting common third-party
// imports from the source text.
func generateGoMod(code string) string {
	deps := []struct{ ident, require string }{
		{"github.com/gin-gonic/gin", "github.com/gin-gonic/gin v1.10.0"},
		{"github.com/gorilla/mux", "github.com/gorilla/mux v1.8.1"},
		{"github.com/stretchr/testify", "github.com/stretchr/testify v1.9.0"},
		{"gorm.io/gorm", "gorm.io/gorm v1.25.5"},
	}

	var requires []string
	for _, dep := range deps {
		if strings.Contains(code, dep.ident) {
			requires = append(requires, dep.require)
		}
	}

	var b strings.Builder
	b.WriteString("module sandbox\n\ngo 1.24\n")
	if len(requires) > 0 {
		b.WriteString("\nrequire (\n")
		for _, r := range requires {
			b.WriteString("\t" + r + "\n")
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// Run resolves dependencies then builds and executes the code. Dependency
// resolution failure returns immediately: fail-fast, no partial run.
func (g *GoRunner) Run(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	ws, err := sandbox.NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	if err := g.PrepareWorkspace(req, ws); err != nil {
		return nil, err
	}

	tidy, err := g.step(ctx, req, cfg, ws, "go mod tidy")
	if err != nil || !tidy.Success {
		return tidy, err
	}

	return g.step(ctx, req, cfg, ws, "go run main.go")
}

// RunTests resolves dependencies, runs the coverage-instrumented test
// command, then renders and parses the coverage summary.
func (g *GoRunner) RunTests(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	ws, err := sandbox.NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	if err := g.PrepareWorkspace(req, ws); err != nil {
		return nil, err
	}

	tidy, err := g.step(ctx, req, cfg, ws, "go mod tidy")
	if err != nil || !tidy.Success {
		return tidy, err
	}

	testCmd := req.TestCommand
	if testCmd == "" {
		testCmd = "go test -v -coverprofile=coverage.out -covermode=atomic ./..."
	}

	result, err := g.step(ctx, req, cfg, ws, testCmd)
	if err != nil {
		return nil, err
	}

	if result.Success && g.SupportsCoverage() && ws.Exists("coverage.out") {
		render, err := g.step(ctx, req, cfg, ws, "go tool cover -func=coverage.out")
		if err == nil && render.Success {
			report, perr := g.analyzer.ParseOutput(render.Stdout, "gocover")
			if perr != nil {
				log.Warn().Err(perr).Msg("coverage parse failed")
			} else {
				result.Coverage = report
			}
		}
	}

	return result, nil
}

func (g *GoRunner) step(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config, ws *sandbox.Workspace, command string) (*sandbox.ExecutionResult, error) {
	stepReq := &sandbox.ExecutionRequest{
		Code:        command,
		Language:    g.Language(),
		Environment: withGoEnv(req.Environment),
		Image:       goImage,
	}
	result, err := g.backend.ExecuteInDir(ctx, stepReq, cfg, ws.Dir)
	if err != nil {
		return nil, fmt.Errorf("go step %q: %w", command, err)
	}
	return result, nil
}

// withGoEnv points the module and build caches into the writable workspace
// mount so the toolchain works under a read-only rootfs.
func withGoEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	if _, ok := out["GOPATH"]; !ok {
		out["GOPATH"] = "/workspace/.gopath"
	}
	if _, ok := out["GOCACHE"]; !ok {
		out["GOCACHE"] = "/workspace/.gocache"
	}
	return out
}
