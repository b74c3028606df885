package runner

import (
	"context"
	"strings"
	"testing"

	"patchgate/internal/coverage"
	"patchgate/internal/sandbox"
)

// fakeBackend records every command it is asked to run and answers from a
// scripted handler, so runner sequencing is testable without a container
// runtime.
type fakeBackend struct {
	commands []string
	dirs     []string
	handler  func(code, dir string) *sandbox.ExecutionResult
}

func (f *fakeBackend) Execute(_ context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	ws, err := sandbox.NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()
	return f.ExecuteInDir(nil, req, cfg, ws.Dir)
}

func (f *fakeBackend) ExecuteInDir(_ context.Context, req *sandbox.ExecutionRequest, _ sandbox.Config, hostDir string) (*sandbox.ExecutionResult, error) {
	f.commands = append(f.commands, req.Code)
	f.dirs = append(f.dirs, hostDir)
	if f.handler != nil {
		if res := f.handler(req.Code, hostDir); res != nil {
			return res, nil
		}
	}
	return &sandbox.ExecutionResult{Success: true}, nil
}

func (f *fakeBackend) Close() error { return nil }

func testRunCfg(t *testing.T) sandbox.Config {
	t.Helper()
	cfg := sandbox.DefaultSandboxConfig()
	cfg.TempDir = t.TempDir()
	return cfg
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&fakeBackend{}, coverage.NewAnalyzer(80, 5))

	langs := r.Languages()
	want := []string{"go", "python", "shell"}
	if len(langs) != len(want) {
		t.Fatalf("Languages() = %v, want %v", langs, want)
	}
	for i := range want {
		if langs[i] != want[i] {
			t.Errorf("Languages()[%d] = %q, want %q", i, langs[i], want[i])
		}
	}

	if _, err := r.Get("rust"); err == nil {
		t.Error("Get(rust) should fail")
	}
	rn, err := r.Get("go")
	if err != nil {
		t.Fatalf("Get(go) = %v", err)
	}
	if !rn.SupportsCoverage() {
		t.Error("go runner should support coverage")
	}
}

func TestGoRunner_RunSequence(t *testing.T) {
	fake := &fakeBackend{}
	g := NewGoRunner(fake, coverage.NewAnalyzer(80, 5))

	result, err := g.Run(context.Background(), &sandbox.ExecutionRequest{
		Code:     "package main\n\nfunc main() {}\n",
		Language: "go",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !result.Success {
		t.Error("Run result not successful")
	}

	want := []string{"go mod tidy", "go run main.go"}
	if len(fake.commands) != 2 || fake.commands[0] != want[0] || fake.commands[1] != want[1] {
		t.Errorf("commands = %v, want %v", fake.commands, want)
	}
	if fake.dirs[0] != fake.dirs[1] {
		t.Error("steps ran in different workspaces")
	}
}

func TestGoRunner_TidyFailureStopsRun(t *testing.T) {
	fake := &fakeBackend{
		handler: func(code, _ string) *sandbox.ExecutionResult {
			if code == "go mod tidy" {
				return &sandbox.ExecutionResult{Success: false, ExitCode: 1, Stderr: "missing module"}
			}
			return nil
		},
	}
	g := NewGoRunner(fake, coverage.NewAnalyzer(80, 5))

	result, err := g.Run(context.Background(), &sandbox.ExecutionRequest{
		Code: "package main", Language: "go",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if result.Success {
		t.Error("tidy failure should produce a failed result")
	}
	if len(fake.commands) != 1 {
		t.Errorf("commands = %v, want only the tidy step", fake.commands)
	}
}

func TestGoRunner_PrepareWorkspace(t *testing.T) {
	g := NewGoRunner(&fakeBackend{}, coverage.NewAnalyzer(80, 5))

	ws, err := sandbox.NewWorkspace(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewWorkspace = %v", err)
	}
	defer ws.Cleanup()

	req := &sandbox.ExecutionRequest{
		Code:        "package main\n\nimport \"github.com/gin-gonic/gin\"\n",
		TestCommand: "go test ./...",
	}
	if err := g.PrepareWorkspace(req, ws); err != nil {
		t.Fatalf("PrepareWorkspace = %v", err)
	}

	gomod, err := ws.ReadFile("go.mod")
	if err != nil {
		t.Fatalf("ReadFile(go.mod) = %v", err)
	}
	if !strings.Contains(gomod, "github.com/gin-gonic/gin") {
		t.Errorf("go.mod missing gin require:\n%s", gomod)
	}
	if !ws.Exists("main_test.go") {
		t.Error("smoke test not synthesized for test run without tests")
	}
}

func TestGoRunner_KeepsProvidedManifest(t *testing.T) {
	g := NewGoRunner(&fakeBackend{}, coverage.NewAnalyzer(80, 5))

	ws, err := sandbox.NewWorkspace(t.TempDir(), map[string]string{"go.mod": "module custom\n\ngo 1.24\n"})
	if err != nil {
		t.Fatalf("NewWorkspace = %v", err)
	}
	defer ws.Cleanup()

	req := &sandbox.ExecutionRequest{
		Code:  "package main",
		Files: map[string]string{"go.mod": "module custom\n\ngo 1.24\n"},
	}
	if err := g.PrepareWorkspace(req, ws); err != nil {
		t.Fatalf("PrepareWorkspace = %v", err)
	}

	gomod, _ := ws.ReadFile("go.mod")
	if !strings.Contains(gomod, "module custom") {
		t.Errorf("provided go.mod was overwritten:\n%s", gomod)
	}
}

func TestGoRunner_NoSmokeTestWhenTestsExist(t *testing.T) {
	g := NewGoRunner(&fakeBackend{}, coverage.NewAnalyzer(80, 5))

	ws, err := sandbox.NewWorkspace(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewWorkspace = %v", err)
	}
	defer ws.Cleanup()

	req := &sandbox.ExecutionRequest{
		Code:        "package main\n\nfunc TestReal(t *testing.T) {}\n",
		TestCommand: "go test ./...",
	}
	if err := g.PrepareWorkspace(req, ws); err != nil {
		t.Fatalf("PrepareWorkspace = %v", err)
	}
	if ws.Exists("main_test.go") {
		t.Error("smoke test synthesized although code has tests")
	}
}

func TestGoRunner_RunTestsAttachesCoverage(t *testing.T) {
	coverOutput := "patchgate/main.go:3:\tmain\t\t80.0%\ntotal:\t(statements)\t80.0%\n"
	fake := &fakeBackend{}
	fake.handler = func(code, dir string) *sandbox.ExecutionResult {
		switch {
		case strings.HasPrefix(code, "go test"):
			// The real toolchain drops the profile into the workspace.
			ws := &sandbox.Workspace{Dir: dir}
			if err := ws.WriteFile("coverage.out", "mode: atomic"); err != nil {
				return &sandbox.ExecutionResult{Success: false, Stderr: err.Error()}
			}
			return &sandbox.ExecutionResult{Success: true, Stdout: "PASS"}
		case strings.HasPrefix(code, "go tool cover"):
			return &sandbox.ExecutionResult{Success: true, Stdout: coverOutput}
		}
		return nil
	}
	g := NewGoRunner(fake, coverage.NewAnalyzer(80, 5))

	result, err := g.RunTests(context.Background(), &sandbox.ExecutionRequest{
		Code: "package main", Language: "go",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("RunTests = %v", err)
	}
	if result.Coverage == nil {
		t.Fatal("coverage not attached to result")
	}
	if result.Coverage.Percentage != 80.0 {
		t.Errorf("coverage percentage = %v, want 80.0", result.Coverage.Percentage)
	}

	joined := strings.Join(fake.commands, "\n")
	for _, want := range []string{"go mod tidy", "go test -v -coverprofile=coverage.out", "go tool cover -func=coverage.out"} {
		if !strings.Contains(joined, want) {
			t.Errorf("commands missing %q:\n%s", want, joined)
		}
	}
}

func TestPythonRunner_Sequence(t *testing.T) {
	covTable := "src code\nmain.py    10    1    90%\n"
	fake := &fakeBackend{}
	fake.handler = func(code, _ string) *sandbox.ExecutionResult {
		if strings.Contains(code, "pytest --cov") || strings.Contains(code, "-m pytest") {
			return &sandbox.ExecutionResult{Success: true, Stdout: covTable}
		}
		return nil
	}
	p := NewPythonRunner(fake, coverage.NewAnalyzer(80, 5))

	result, err := p.RunTests(context.Background(), &sandbox.ExecutionRequest{
		Code:        "import requests\n\ndef handler():\n    pass\n",
		Language:    "python",
		TestCommand: "python -m pytest --cov=. --cov-report=term",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("RunTests = %v", err)
	}
	if result.Coverage == nil {
		t.Fatal("coverage not attached to result")
	}
	if result.Coverage.TotalLines != 10 || result.Coverage.CoveredLines != 9 {
		t.Errorf("coverage lines = %d/%d, want 9/10", result.Coverage.CoveredLines, result.Coverage.TotalLines)
	}

	joined := strings.Join(fake.commands, "\n")
	if !strings.Contains(joined, "pip install --quiet -r requirements.txt") {
		t.Errorf("requirements install missing:\n%s", joined)
	}
	if !strings.Contains(joined, "pip install --quiet pytest pytest-cov") {
		t.Errorf("pytest tooling install missing:\n%s", joined)
	}
}

func TestPythonRunner_SkipsEmptyRequirements(t *testing.T) {
	fake := &fakeBackend{}
	p := NewPythonRunner(fake, coverage.NewAnalyzer(80, 5))

	_, err := p.Run(context.Background(), &sandbox.ExecutionRequest{
		Code:     "print('hello')",
		Language: "python",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("Run = %v", err)
	}

	for _, cmd := range fake.commands {
		if strings.Contains(cmd, "pip install --quiet -r") {
			t.Errorf("requirements install ran for dependency-free code: %v", fake.commands)
		}
	}
	if fake.commands[len(fake.commands)-1] != "python main.py" {
		t.Errorf("final command = %q, want python main.py", fake.commands[len(fake.commands)-1])
	}
}

func TestGenerateRequirements(t *testing.T) {
	reqs := generateRequirements("import requests\nimport numpy\n")
	if !strings.Contains(reqs, "requests==") || !strings.Contains(reqs, "numpy==") {
		t.Errorf("requirements = %q", reqs)
	}
	if generateRequirements("print('x')") != "" {
		t.Error("dependency-free code should get empty requirements")
	}
}

func TestShellRunner(t *testing.T) {
	fake := &fakeBackend{}
	s := NewShellRunner(fake)

	if s.SupportsCoverage() {
		t.Error("shell runner must not claim coverage support")
	}

	result, err := s.RunTests(context.Background(), &sandbox.ExecutionRequest{
		Code:     "echo hi",
		Language: "shell",
	}, testRunCfg(t))
	if err != nil {
		t.Fatalf("RunTests = %v", err)
	}
	if result.Coverage != nil {
		t.Error("shell runner attached a coverage report")
	}
	if len(fake.commands) != 1 || fake.commands[0] != "echo hi" {
		t.Errorf("commands = %v, want [echo hi]", fake.commands)
	}

	fake.commands = nil
	if _, err := s.RunTests(context.Background(), &sandbox.ExecutionRequest{
		Code:        "echo hi",
		TestCommand: "sh test.sh",
	}, testRunCfg(t)); err != nil {
		t.Fatalf("RunTests with TestCommand = %v", err)
	}
	if fake.commands[0] != "sh test.sh" {
		t.Errorf("command = %q, want the test command", fake.commands[0])
	}
}
