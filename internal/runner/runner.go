// Package runner translates language-agnostic execution requests into the
// concrete files and command sequences each language toolchain needs, then
// delegates to the sandbox backend.
package runner

import (
	"context"
	"fmt"
	"sort"

	"patchgate/internal/coverage"
	"patchgate/internal/sandbox"
)

// Runner is a per-language strategy object. Implementations are stateless
// beyond static capability flags, so concurrent runs share nothing but the
// backend handle.
type Runner interface {
	// Language returns the identifier this runner handles (e.g. "go").
	Language() string

	// SupportsCoverage reports whether RunTests can produce a coverage report.
	SupportsCoverage() bool

	// Run prepares a workspace and executes the code.
	Run(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error)

	// RunTests prepares a workspace and runs the toolchain's test command,
	// coverage-instrumented when supported.
	RunTests(ctx context.Context, req *sandbox.ExecutionRequest, cfg sandbox.Config) (*sandbox.ExecutionResult, error)
}

// Registry maps language names to their runners.
type Registry struct {
	runners map[string]Runner
}

// NewRegistry creates a registry with all supported language runners wired
// to the given backend and coverage analyzer.
func NewRegistry(backend sandbox.Backend, analyzer *coverage.Analyzer) *Registry {
	r := &Registry{runners: make(map[string]Runner)}
	r.Register(NewGoRunner(backend, analyzer))
	r.Register(NewPythonRunner(backend, analyzer))
	r.Register(NewShellRunner(backend))
	return r
}

// Register adds a runner to the registry.
func (r *Registry) Register(rn Runner) {
	r.runners[rn.Language()] = rn
}

// Get returns the runner for the given language.
func (r *Registry) Get(language string) (Runner, error) {
	rn, ok := r.runners[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: %v)", language, r.Languages())
	}
	return rn, nil
}

// Languages returns all registered language names, sorted.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runners))
	for name := range r.runners {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}
