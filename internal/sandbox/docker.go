package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// killGracePeriod bounds how long we wait for a killed container's process
// tree to confirm teardown before finalizing the result anyway.
const killGracePeriod = 5 * time.Second

// DockerRunner is the docker-CLI sandbox backend.
type DockerRunner struct {
	sem        chan struct{}
	wg         sync.WaitGroup
	active     atomic.Int64
	dockerHost string // resolved DOCKER_HOST (e.g. from Docker context)
	mu         sync.Mutex
	closed     bool
}

// NewDockerRunner creates a docker-CLI backend. It fails when the docker
// binary is missing or the daemon is unreachable: a runtime-start failure is
// fatal, never encoded as a false result.
func NewDockerRunner(maxConcurrent int) (*DockerRunner, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}

	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("%w: docker not found in PATH: %v", ErrRuntimeUnavailable, err)
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		return nil, fmt.Errorf("%w: docker daemon not reachable: %v", ErrRuntimeUnavailable, err)
	}

	return &DockerRunner{
		sem:        make(chan struct{}, maxConcurrent),
		dockerHost: resolveDockerHost(),
	}, nil
}

// resolveDockerHost figures out the Docker socket. On macOS, Docker Desktop
// uses a context-specific socket that child processes don't inherit.
func resolveDockerHost() string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command("docker", "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output()
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved Docker host from context")
			return host
		}
	}

	return ""
}

// Execute runs the request in a fresh per-invocation workspace.
func (d *DockerRunner) Execute(ctx context.Context, req *ExecutionRequest, cfg Config) (*ExecutionResult, error) {
	if err := validateRequest(req, cfg); err != nil {
		return nil, &ExecutionError{Op: "validate", Err: err}
	}

	ws, err := NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, &ExecutionError{Op: "create_workspace", Err: err}
	}
	defer ws.Cleanup()

	return d.run(ctx, req, cfg, ws)
}

// ExecuteInDir runs the request against a caller-owned workspace. The caller
// keeps ownership: the directory is not removed here.
func (d *DockerRunner) ExecuteInDir(ctx context.Context, req *ExecutionRequest, cfg Config, hostDir string) (*ExecutionResult, error) {
	if err := validateRequest(req, cfg); err != nil {
		return nil, &ExecutionError{Op: "validate", Err: err}
	}
	if info, err := os.Stat(hostDir); err != nil || !info.IsDir() {
		return nil, &ExecutionError{Op: "stat_workspace", Err: fmt.Errorf("%w: %q is not a directory", ErrInvalidRequest, hostDir)}
	}

	ws := &Workspace{Dir: hostDir}
	return d.run(ctx, req, cfg, ws)
}

func (d *DockerRunner) run(ctx context.Context, req *ExecutionRequest, cfg Config, ws *Workspace) (*ExecutionResult, error) {
	execID := ws.ExecID
	if execID == "" {
		execID = uuid.New().String()
	}
	containerName := "patchgate-" + execID

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language).
		Str("image", req.Image).
		Logger()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	d.wg.Add(1)
	defer d.wg.Done()
	d.active.Add(1)
	defer d.active.Add(-1)

	args, err := d.buildArgs(containerName, req, cfg, ws.Dir)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "build_args", Err: err}
	}

	ws.Snapshot()

	cmd := exec.Command("docker", args...) // #nosec G204 -- args assembled internally by buildArgs
	if d.dockerHost != "" {
		cmd.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	logger.Info().Msg("starting sandbox container")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "docker_start",
			Err: fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)}
	}

	// Race container completion against the timeout. The first to finish
	// wins; the loser is cancelled.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		logger.Warn().Dur("timeout", cfg.Timeout).Msg("execution timed out, killing container")
		d.killContainer(containerName)

		// Bounded grace period for teardown confirmation; the result is
		// finalized regardless.
		select {
		case <-waitCh:
		case <-time.After(killGracePeriod):
			logger.Warn().Msg("container did not confirm teardown within grace period")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	if timedOut {
		stderr := stderrBuf.String()
		if stderr != "" {
			stderr += "\n"
		}
		stderr += fmt.Sprintf("execution timed out after %s", cfg.Timeout)

		return &ExecutionResult{
			Success:       false,
			ExitCode:      TimeoutExitCode,
			Stdout:        stdoutBuf.String(),
			Stderr:        stderr,
			ExecutionTime: cfg.Timeout,
			Artifacts:     ws.CollectArtifacts(),
		}, nil
	}

	duration := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, &ExecutionError{ExecID: execID, Op: "docker_wait", Err: waitErr}
		}
		exitCode = exitErr.ExitCode()
	}

	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("sandbox execution completed")

	return &ExecutionResult{
		Success:       exitCode == 0,
		ExitCode:      exitCode,
		Stdout:        stdoutBuf.String(),
		Stderr:        stderrBuf.String(),
		ExecutionTime: duration,
		Artifacts:     ws.CollectArtifacts(),
	}, nil
}

// buildArgs assembles the docker run invocation: resource ceilings, network
// isolation, workspace mount and the command itself.
func (d *DockerRunner) buildArgs(containerName string, req *ExecutionRequest, cfg Config, hostDir string) ([]string, error) {
	if _, err := ParseMemoryLimit(cfg.MemoryLimit); err != nil {
		return nil, err
	}

	workdir := req.WorkingDirectory
	if workdir == "" {
		workdir = "/workspace"
	}

	args := []string{
		"run", "--rm",
		"--name", containerName,
		"--memory", cfg.MemoryLimit,
		"--memory-swap", cfg.MemoryLimit,
		"--cpus", fmt.Sprintf("%.2f", cfg.CPULimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-v", fmt.Sprintf("%s:/workspace", hostDir),
		"-w", workdir,
	}

	// No outbound reachability unless explicitly enabled. Hard requirement,
	// not best-effort.
	if !cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}

	for _, key := range sortedKeys(req.Environment) {
		args = append(args, "-e", key+"="+req.Environment[key])
	}

	args = append(args, req.Image)

	if strings.ContainsAny(req.Code, "&|;<>$`") {
		// Shell metacharacters: hand the whole line to the shell.
		args = append(args, "/bin/sh", "-c", req.Code)
	} else {
		argv, err := shlex.Split(req.Code)
		if err != nil || len(argv) == 0 {
			return nil, fmt.Errorf("%w: cannot split command %q: %v", ErrInvalidRequest, req.Code, err)
		}
		args = append(args, argv...)
	}

	return args, nil
}

// killContainer force-kills a container. Idempotent: a missing container is
// not an error, and kill failures are logged, never propagated.
func (d *DockerRunner) killContainer(name string) {
	kill := exec.Command("docker", "kill", name) // #nosec G204 -- name assembled internally
	if d.dockerHost != "" {
		kill.Env = append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
	}
	if out, err := kill.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "No such container") {
			return
		}
		log.Warn().Err(err).Str("container", name).Msg("best-effort container kill failed")
	}
}

// ActiveCount returns the number of currently running executions.
func (d *DockerRunner) ActiveCount() int64 {
	return d.active.Load()
}

// Close drains active executions, waiting up to 30s.
func (d *DockerRunner) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all docker executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", d.active.Load()).Msg("timed out waiting for docker executions to drain")
	}
	return nil
}

func validateRequest(req *ExecutionRequest, cfg Config) error {
	if strings.TrimSpace(req.Code) == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if req.Image == "" {
		return fmt.Errorf("%w: image is empty", ErrInvalidRequest)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidRequest, cfg.Timeout)
	}
	for key := range req.Environment {
		for _, c := range key {
			if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
				return fmt.Errorf("%w: env var key %q contains invalid characters", ErrInvalidRequest, key)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
