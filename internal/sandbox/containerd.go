package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
)

// ContainerdRunner is the containerd-based sandbox backend (Linux).
type ContainerdRunner struct {
	client *Client
	sem    chan struct{} // Concurrency limiter
	active atomic.Int64
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewContainerdRunner creates a containerd backend over an established client.
func NewContainerdRunner(client *Client, maxConcurrent int) *ContainerdRunner {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}
	return &ContainerdRunner{
		client: client,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Execute runs the request in a fresh per-invocation workspace.
func (r *ContainerdRunner) Execute(ctx context.Context, req *ExecutionRequest, cfg Config) (*ExecutionResult, error) {
	if err := validateRequest(req, cfg); err != nil {
		return nil, &ExecutionError{Op: "validate", Err: err}
	}

	ws, err := NewWorkspace(cfg.TempDir, req.Files)
	if err != nil {
		return nil, &ExecutionError{Op: "create_workspace", Err: err}
	}
	defer ws.Cleanup()

	return r.run(ctx, req, cfg, ws)
}

// ExecuteInDir runs the request against a caller-owned workspace.
func (r *ContainerdRunner) ExecuteInDir(ctx context.Context, req *ExecutionRequest, cfg Config, hostDir string) (*ExecutionResult, error) {
	if err := validateRequest(req, cfg); err != nil {
		return nil, &ExecutionError{Op: "validate", Err: err}
	}
	if info, err := os.Stat(hostDir); err != nil || !info.IsDir() {
		return nil, &ExecutionError{Op: "stat_workspace", Err: fmt.Errorf("%w: %q is not a directory", ErrInvalidRequest, hostDir)}
	}

	ws := &Workspace{Dir: hostDir}
	return r.run(ctx, req, cfg, ws)
}

func (r *ContainerdRunner) run(ctx context.Context, req *ExecutionRequest, cfg Config, ws *Workspace) (*ExecutionResult, error) {
	execID := ws.ExecID
	if execID == "" {
		execID = uuid.New().String()
	}

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language).
		Str("image", req.Image).
		Logger()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: ctx.Err()}
	}

	r.wg.Add(1)
	defer r.wg.Done()
	r.active.Add(1)
	defer r.active.Add(-1)

	memoryBytes, err := ParseMemoryLimit(cfg.MemoryLimit)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "parse_limits", Err: err}
	}

	image, err := r.client.PullImage(ctx, req.Image)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "pull_image", Err: err}
	}

	containerID := "patchgate-" + execID
	container, err := r.createContainer(ctx, containerID, image, req, cfg, ws.Dir, memoryBytes)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_container", Err: err}
	}
	// Always cleanup, even on panic.
	defer func() {
		if cleanErr := r.cleanupContainer(context.Background(), container); cleanErr != nil {
			logger.Error().Err(cleanErr).Msg("container cleanup failed")
		}
	}()

	ws.Snapshot()

	var stdoutBuf, stderrBuf bytes.Buffer
	nsCtx := r.client.WithNamespace(ctx)

	task, err := container.NewTask(nsCtx,
		cio.NewCreator(cio.WithStreams(nil, &stdoutBuf, &stderrBuf)),
	)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_task", Err: err}
	}
	defer func() {
		if _, err := task.Delete(r.client.WithNamespace(context.Background()), containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			logger.Error().Err(err).Msg("task delete failed")
		}
	}()

	exitCh, err := task.Wait(nsCtx)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_wait", Err: err}
	}

	start := time.Now()
	if err := task.Start(nsCtx); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "task_start", Err: err}
	}

	logger.Info().Msg("task started")

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	var exitCode int
	select {
	case status := <-exitCh:
		exitCode = int(status.ExitCode())

	case <-timer.C:
		logger.Warn().Dur("timeout", cfg.Timeout).Msg("execution timed out, killing task")
		killCtx := r.client.WithNamespace(context.Background())
		if err := task.Kill(killCtx, 9); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn().Err(err).Msg("best-effort task kill failed")
		}

		// Bounded grace period for teardown confirmation.
		select {
		case <-exitCh:
		case <-time.After(killGracePeriod):
			logger.Warn().Msg("task did not confirm teardown within grace period")
		}

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
	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("execution completed")

	return &ExecutionResult{
		Success:       exitCode == 0,
		ExitCode:      exitCode,
		Stdout:        stdoutBuf.String(),
		Stderr:        stderrBuf.String(),
		ExecutionTime: duration,
		Artifacts:     ws.CollectArtifacts(),
	}, nil
}

func (r *ContainerdRunner) createContainer(
	ctx context.Context,
	id string,
	image containerd.Image,
	req *ExecutionRequest,
	cfg Config,
	hostDir string,
	memoryBytes int64,
) (containerd.Container, error) {
	nsCtx := r.client.WithNamespace(ctx)

	workdir := req.WorkingDirectory
	if workdir == "" {
		workdir = "/workspace"
	}

	args := []string{"/bin/sh", "-c", req.Code}

	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
		"SANDBOX=true",
	}
	for _, key := range sortedKeys(req.Environment) {
		env = append(env, key+"="+req.Environment[key])
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(args...),
		oci.WithProcessCwd(workdir),
		oci.WithHostname("sandbox"),
		func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
			ApplyResourceLimits(s, memoryBytes, cfg.CPULimit)

			s.Mounts = append(s.Mounts, specs.Mount{
				Destination: "/workspace",
				Type:        "bind",
				Source:      hostDir,
				Options:     []string{"rbind", "rw"},
			})

			s.Process.Env = env
			s.Process.Capabilities = &specs.LinuxCapabilities{}
			s.Process.NoNewPrivileges = true

			return nil
		},
	}

	// The default spec carries a private network namespace with only
	// loopback, which is exactly the no-outbound-reachability guarantee.
	// Sharing the host namespace is the opt-in.
	if cfg.NetworkEnabled {
		specOpts = append(specOpts, oci.WithHostNamespace(specs.NetworkNamespace))
	}

	container, err := r.client.Raw().NewContainer(nsCtx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	return container, nil
}

func (r *ContainerdRunner) cleanupContainer(ctx context.Context, container containerd.Container) error {
	if container == nil {
		return nil
	}

	id := container.ID()
	logger := log.With().Str("container_id", id).Logger()

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cleanupCtx = r.client.WithNamespace(cleanupCtx)

	if task, err := container.Task(cleanupCtx, nil); err == nil {
		if status, err := task.Status(cleanupCtx); err == nil && status.Status != containerd.Stopped {
			logger.Debug().Msg("killing running task")
			_ = task.Kill(cleanupCtx, 9)

			waitCtx, waitCancel := context.WithTimeout(cleanupCtx, killGracePeriod)
			defer waitCancel()
			exitCh, _ := task.Wait(waitCtx)
			if exitCh != nil {
				select {
				case <-exitCh:
				case <-waitCtx.Done():
					logger.Warn().Msg("timed out waiting for task to stop")
				}
			}
		}

		if _, err := task.Delete(cleanupCtx, containerd.WithProcessKill); err != nil {
			if !errdefs.IsNotFound(err) {
				logger.Warn().Err(err).Msg("failed to delete task")
			}
		}
	}

	if err := container.Delete(cleanupCtx, containerd.WithSnapshotCleanup); err != nil {
		if !errdefs.IsNotFound(err) {
			logger.Error().Err(err).Msg("failed to delete container")
			return fmt.Errorf("deleting container %s: %w", id, err)
		}
	}

	logger.Debug().Msg("container cleaned up")
	return nil
}

// ActiveCount returns the number of currently running executions.
func (r *ContainerdRunner) ActiveCount() int64 {
	return r.active.Load()
}

// Close drains active executions and closes the containerd client.
func (r *ContainerdRunner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", r.active.Load()).Msg("timed out waiting for executions to drain")
	}

	return r.client.Close()
}
