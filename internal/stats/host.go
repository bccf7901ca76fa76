package stats

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mb = 1024 * 1024

// HostStats describes the machine and the monitor process itself.
type HostStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  uint64  `json:"memoryUsedMB"`
	MemoryPercent float64 `json:"memoryPercent"`
	Load1         float64 `json:"load1"`
	Goroutines    int     `json:"goroutines"`
	ProcessRSSMB  uint64  `json:"processRSSMB"`
}

// HostProvider samples host statistics with gopsutil. CPU and memory are
// required; load average and process RSS are best effort because they are
// not available on every platform.
type HostProvider struct {
	pid    int32
	logger *slog.Logger
}

func NewHostProvider() *HostProvider {
	return &HostProvider{pid: int32(os.Getpid()), logger: slog.Default()}
}

func (p *HostProvider) Snapshot(ctx context.Context) (any, error) {
	// Interval 0 compares against the previous call, so the first sample
	// after startup may read 0.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}

	s := HostStats{
		MemoryUsedMB:  vm.Used / mb,
		MemoryPercent: vm.UsedPercent,
		Goroutines:    runtime.NumGoroutine(),
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	} else {
		p.logger.Debug("load average unavailable", "error", err)
	}

	if proc, err := process.NewProcessWithContext(ctx, p.pid); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSMB = info.RSS / mb
		}
	}

	return s, nil
}
