// Package platform surfaces host/process resource stats for the health
// endpoint, grounded on the teacher's server.go collectMetrics/cgroup.go
// use of github.com/shirou/gopsutil/v3.
package platform

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats returns the current process's resident memory in MB and
// its average CPU percent since the process started (a fresh gopsutil
// handle is opened on every call). Both return 0 on any gopsutil
// failure rather than propagating an error — this is observability, not
// a request-path concern.
func ProcessStats(ctx context.Context) (memoryMB, cpuPercent float64) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, 0
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		memoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		cpuPercent = pct
	}
	return memoryMB, cpuPercent
}
