//go:build linux
// +build linux

package collector

import (
	"fmt"
	"os"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const cpuPeriodUs uint64 = 100000

// ResourceLimiter confines the recorder to a cgroup with CPU and memory caps.
type ResourceLimiter struct {
	control cgroups.Cgroup
}

// LimitResources moves the current process into a cgroup named name.
// cpuCores is a fraction of one core per period; memMB caps resident memory.
// Zero values leave the process unconfined.
func LimitResources(name string, cpuCores float64, memMB int) (*ResourceLimiter, error) {
	if cpuCores <= 0 && memMB <= 0 {
		return &ResourceLimiter{}, nil
	}

	control, err := cgroups.New(cgroups.V1, cgroups.StaticPath("/"+name), resourcesFor(cpuCores, memMB))
	if err != nil {
		return nil, fmt.Errorf("create cgroup %s: %w", name, err)
	}
	if err := control.Add(cgroups.Process{Pid: os.Getpid()}); err != nil {
		control.Delete()
		return nil, fmt.Errorf("join cgroup %s: %w", name, err)
	}
	return &ResourceLimiter{control: control}, nil
}

// resourcesFor converts the configured limits into cgroup resources. A
// non-positive value leaves that controller unset.
func resourcesFor(cpuCores float64, memMB int) *specs.LinuxResources {
	resources := &specs.LinuxResources{}
	if cpuCores > 0 {
		period := cpuPeriodUs
		quota := int64(cpuCores * float64(cpuPeriodUs))
		resources.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota}
	}
	if memMB > 0 {
		limit := int64(memMB) * 1024 * 1024
		resources.Memory = &specs.LinuxMemory{Limit: &limit}
	}
	return resources
}

// Release removes the cgroup. The kernel refuses while tasks remain in it,
// so call it on the way out.
func (l *ResourceLimiter) Release() error {
	if l == nil || l.control == nil {
		return nil
	}
	return l.control.Delete()
}
