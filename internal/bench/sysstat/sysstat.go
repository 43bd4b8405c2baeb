// Package sysstat samples the benchmark process's own resource usage so a run
// summary can show the CPU time and context switches each strategy costs.
package sysstat

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Usage is the resource delta between Start and Stop.
type Usage struct {
	UserCPU             time.Duration `json:"user_cpu"`
	SystemCPU           time.Duration `json:"system_cpu"`
	VoluntarySwitches   int64         `json:"voluntary_ctx_switches"`
	InvoluntarySwitches int64         `json:"involuntary_ctx_switches"`
	RSSBytes            uint64        `json:"rss_bytes"`
	Threads             int32         `json:"threads"`
}

type snapshot struct {
	user, system           float64
	voluntary, involuntary int64
}

// Sampler measures one process between Start and Stop.
type Sampler struct {
	proc  *process.Process
	start snapshot
}

// NewSampler returns a sampler for the current process.
func NewSampler() (*Sampler, error) {
	return NewSamplerFor(int32(os.Getpid()))
}

// NewSamplerFor returns a sampler for process pid.
func NewSamplerFor(pid int32) (*Sampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("sysstat: open process %d: %w", pid, err)
	}
	return &Sampler{proc: proc}, nil
}

// Start records the baseline.
func (s *Sampler) Start() error {
	snap, err := s.take()
	if err != nil {
		return err
	}
	s.start = snap
	return nil
}

// Stop returns the usage accumulated since Start plus the current RSS and
// thread count.
func (s *Sampler) Stop() (Usage, error) {
	end, err := s.take()
	if err != nil {
		return Usage{}, err
	}

	u := Usage{
		UserCPU:             seconds(end.user - s.start.user),
		SystemCPU:           seconds(end.system - s.start.system),
		VoluntarySwitches:   end.voluntary - s.start.voluntary,
		InvoluntarySwitches: end.involuntary - s.start.involuntary,
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		u.RSSBytes = mem.RSS
	}
	if n, err := s.proc.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}

func (s *Sampler) take() (snapshot, error) {
	times, err := s.proc.Times()
	if err != nil {
		return snapshot{}, fmt.Errorf("sysstat: cpu times: %w", err)
	}
	snap := snapshot{user: times.User, system: times.System}

	// Context switch counters are missing on some platforms; CPU time alone
	// is still worth reporting.
	if cs, err := s.proc.NumCtxSwitches(); err == nil {
		snap.voluntary = cs.Voluntary
		snap.involuntary = cs.Involuntary
	}
	return snap, nil
}

func seconds(f float64) time.Duration {
	if f < 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
