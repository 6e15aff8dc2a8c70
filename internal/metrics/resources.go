package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one CPU and memory reading of the worker process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler periodically reads the worker's resource usage into gauges and a
// fixed-size ring of recent samples.
type Sampler struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	ring     []Sample
	startIdx int
	count    int
	// gopsutil needs the same handle across calls for CPUPercent deltas
	proc *process.Process
}

func NewSampler(interval time.Duration, size int, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if size <= 0 {
		size = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{interval: interval, logger: logger, ring: make([]Sample, size)}
}

// Run samples pid() every interval until ctx is cancelled. A pid of 0 means
// the worker is not running; gauges are reset and nothing is recorded.
func (s *Sampler) Run(ctx context.Context, pid func() int) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Collect(ctx, pid())
		}
	}
}

// Collect takes one sample of pid.
func (s *Sampler) Collect(ctx context.Context, pid int) {
	if pid <= 0 {
		s.mu.Lock()
		s.proc = nil
		s.mu.Unlock()
		resetResources()
		return
	}
	sample, err := s.read(ctx, int32(pid))
	if err != nil {
		s.logger.Debug("failed to sample worker resources", "pid", pid, "error", err)
		return
	}
	setResources(sample)
	s.add(sample)
}

func (s *Sampler) read(ctx context.Context, pid int32) (Sample, error) {
	s.mu.Lock()
	proc := s.proc
	if proc == nil || proc.Pid != pid {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			s.mu.Unlock()
			return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		proc = p
		s.proc = p
	}
	s.mu.Unlock()

	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, _ := proc.NumThreadsWithContext(ctx)

	out := Sample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			out.NumFDs = fds
		}
	}
	return out, nil
}

func (s *Sampler) add(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := len(s.ring)
	if s.count < size {
		s.ring[(s.startIdx+s.count)%size] = sample
		s.count++
		return
	}
	s.ring[s.startIdx] = sample
	s.startIdx = (s.startIdx + 1) % size
}

// Recent returns the recorded samples, oldest first.
func (s *Sampler) Recent() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(s.startIdx+i)%len(s.ring)])
	}
	return out
}

// Latest returns the newest sample, if any.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return Sample{}, false
	}
	return s.ring[(s.startIdx+s.count-1)%len(s.ring)], true
}
