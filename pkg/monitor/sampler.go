package monitor

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time reading of this process's resource usage.
type Sample struct {
	MemoryBytes uint64
	CPUTime     time.Duration
}

// Sampler reads process resource usage.
type Sampler interface {
	Sample(ctx context.Context) Sample
}

// ProcessSampler reads RSS and user+system CPU time through gopsutil. When
// the process handle is unavailable it falls back to the Go heap size and
// reports no CPU time.
type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler() *ProcessSampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &ProcessSampler{}
	}
	return &ProcessSampler{proc: proc}
}

func (s *ProcessSampler) Sample(ctx context.Context) Sample {
	var out Sample
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			out.MemoryBytes = mem.RSS
		}
		if times, err := s.proc.TimesWithContext(ctx); err == nil {
			out.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
		}
	}
	if out.MemoryBytes == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		out.MemoryBytes = ms.HeapAlloc
	}
	return out
}

var _ Sampler = (*ProcessSampler)(nil)
