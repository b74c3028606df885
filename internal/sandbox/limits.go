package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ParseMemoryLimit converts a docker-style memory string ("512m", "2g",
// "131072k", "1048576") to bytes.
func ParseMemoryLimit(limit string) (int64, error) {
	s := strings.TrimSpace(strings.ToLower(limit))
	if s == "" {
		return 0, fmt.Errorf("%w: memory limit is empty", ErrInvalidRequest)
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'k':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid memory limit %q", ErrInvalidRequest, limit)
	}
	return n * multiplier, nil
}

// ApplyResourceLimits sets memory, CPU and pid ceilings on an OCI spec from
// the sandbox config.
func ApplyResourceLimits(spec *specs.Spec, memoryBytes int64, cpuLimit float64) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}

	// CFS quota gives a hard CPU cap; shares are only best-effort.
	period := uint64(100000) // 100ms in microseconds
	quota := int64(cpuLimit * float64(period))
	if quota < 1000 {
		quota = 1000 // minimum 1ms
	}
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memoryBytes,
		Swap:  &memoryBytes,
	}

	pids := int64(256)
	spec.Linux.Resources.Pids = &specs.LinuxPids{Limit: pids}

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: 1024, Soft: 1024},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
	}
}
