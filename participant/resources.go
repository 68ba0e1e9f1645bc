package participant

import (
	"context"
	"maps"
	"os"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// hostMetadata describes the machine the participant trains on, overlaid by
// the configured metadata. Probes that fail are left out.
func hostMetadata(ctx context.Context, configured map[string]string) map[string]string {
	md := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		md["cpu_count"] = strconv.Itoa(n)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		md["memory_total_bytes"] = strconv.FormatUint(vm.Total, 10)
	}
	maps.Copy(md, configured)

	return md
}

type usage struct {
	cpuSeconds float64
	rssBytes   uint64
}

type usageProbe struct {
	proc *process.Process
}

func newUsageProbe() *usageProbe {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &usageProbe{}
	}

	return &usageProbe{proc: proc}
}

// sample reads the cumulative CPU time and resident memory of the process.
func (p *usageProbe) sample(ctx context.Context) (usage, bool) {
	if p == nil || p.proc == nil {
		return usage{}, false
	}
	times, err := p.proc.TimesWithContext(ctx)
	if err != nil {
		return usage{}, false
	}
	u := usage{cpuSeconds: times.User + times.System}
	if mi, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		u.rssBytes = mi.RSS
	}

	return u, true
}
