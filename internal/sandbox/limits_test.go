package sandbox

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	ApplyResourceLimits(spec, 512<<20, 2.0)

	res := spec.Linux.Resources
	if res.Memory == nil || *res.Memory.Limit != 512<<20 {
		t.Errorf("memory limit = %+v, want 512MiB", res.Memory)
	}
	if *res.Memory.Swap != *res.Memory.Limit {
		t.Error("swap limit should equal memory limit (no swap headroom)")
	}
	if res.CPU == nil || *res.CPU.Period != 100000 {
		t.Errorf("CPU period = %+v, want 100000", res.CPU)
	}
	if *res.CPU.Quota != 200000 {
		t.Errorf("CPU quota = %d, want 200000 for 2 CPUs", *res.CPU.Quota)
	}
	if res.Pids == nil || res.Pids.Limit != 256 {
		t.Errorf("pids limit = %+v, want 256", res.Pids)
	}
	if len(spec.Process.Rlimits) != 2 {
		t.Errorf("rlimits = %+v, want NOFILE and CORE", spec.Process.Rlimits)
	}
}

func TestApplyResourceLimits_MinimumQuota(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	ApplyResourceLimits(spec, 1<<20, 0.001)

	if *spec.Linux.Resources.CPU.Quota != 1000 {
		t.Errorf("quota = %d, want floor of 1000", *spec.Linux.Resources.CPU.Quota)
	}
}
