package runner

import (
	"context"

	"patchgate/internal/sandbox"
)

const shellImage = "docker.io/library/alpine:3.20"

// ShellRunner executes shell scripts. No dependency resolution, no
// coverage instrumentation.
type ShellRunner struct {
	backend sandbox.Backend
}

func NewShellRunner(backend sandbox.Backend) *ShellRunner {
	return &ShellRunner{backend: backend}
}

func (s *ShellRunner) Language() string { return "shell" }

func (s *ShellRunner) SupportsCoverage() bool { return false }

func (s *ShellRunner) Run(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	return s.backend.Execute(ctx, s.withImage(req, req.Code), cfg)
}

// RunTests runs the requested test command, or the script itself when none
// is given. Coverage stays nil: there is nothing to instrument.
func (s *ShellRunner) RunTests(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error) {
	code := req.Code
	if req.TestCommand != "" {
		code = req.TestCommand
	}
	return s.backend.Execute(ctx, s.withImage(req, code), cfg)
}

func (s *ShellRunner) withImage(req *sandbox.ExecutionRequest, code string) *sandbox.ExecutionRequest {
	out := *req
	out.Code = code
	out.Image = shellImage
	return &out
}
