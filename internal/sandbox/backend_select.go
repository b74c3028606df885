package sandbox

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
)

// BackendOptions selects and tunes the isolation backend.
type BackendOptions struct {
	Preference       string // "auto" (default), "containerd", or "docker"
	ContainerdSocket string
	Namespace        string
	MaxConcurrent    int
}

// NewBackend picks the best available backend: containerd on Linux, Docker
// elsewhere. A hard preference that cannot be satisfied is an error.
func NewBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	preference := opts.Preference
	if preference == "" {
		preference = "auto"
	}

	switch preference {
	case "containerd":
		return newContainerdBackend(ctx, opts)
	case "docker":
		return NewDockerRunner(opts.MaxConcurrent)
	case "auto":
		if runtime.GOOS == "linux" {
			backend, err := newContainerdBackend(ctx, opts)
			if err == nil {
				log.Info().Msg("using containerd backend")
				return backend, nil
			}
			log.Warn().Err(err).Msg("containerd unavailable, trying Docker")
		}

		backend, err := NewDockerRunner(opts.MaxConcurrent)
		if err == nil {
			log.Info().Msg("using Docker backend")
			return backend, nil
		}

		return nil, fmt.Errorf("%w: install Docker (macOS/Windows) or containerd (Linux)", ErrRuntimeUnavailable)
	default:
		return nil, fmt.Errorf("%w: %q must be auto, containerd, or docker", ErrUnsupportedBackend, preference)
	}
}

func newContainerdBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	socket := opts.ContainerdSocket
	if socket == "" {
		socket = "/run/containerd/containerd.sock"
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "patchgate"
	}

	client, err := NewClient(ctx, socket, namespace)
	if err != nil {
		return nil, err
	}

	return NewContainerdRunner(client, opts.MaxConcurrent), nil
}
