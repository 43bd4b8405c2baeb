// Package engine runs a whole benchmark: the server accepts connections and
// gives each one a transmitting worker, the client spawns receiving workers,
// and both merge their workers' metrics into one summary.
package engine

import (
	"fmt"
	"net"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/copyperf/internal/bench"
	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	"github.com/wesleyorama2/copyperf/internal/bench/strategy"
	"github.com/wesleyorama2/copyperf/internal/bench/sysstat"
	"github.com/wesleyorama2/copyperf/internal/log"
)

// Options carries optional collaborators of a run.
type Options struct {
	// RunID tags the summary and every log line. Generated when empty.
	RunID string

	// Exporter receives worker start/finish events.
	Exporter *metrics.Exporter

	// Logger defaults to the process logger.
	Logger *logrus.Entry

	// OnListen is called with the bound address once the server listens.
	OnListen func(net.Addr)

	// SampleHost attaches the process's CPU and context-switch usage to
	// the summary.
	SampleHost bool
}

// run holds what Server and Client share.
type run struct {
	cfg       config.BenchConfig
	kind      strategy.Kind
	fieldSize int
	alloc     message.Allocator
	opts      Options
	log       *logrus.Entry
}

func newRun(cfg config.BenchConfig, role bench.Role, opts Options) (*run, error) {
	kind, err := strategy.Parse(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	fieldSize, err := message.FieldSizeFor(cfg.MessageSize)
	if err != nil {
		return nil, err
	}
	alloc, err := message.NewAllocator(cfg.Allocator)
	if err != nil {
		return nil, err
	}
	if cfg.Duration.Std() <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", cfg.Duration)
	}

	if opts.RunID == "" {
		opts.RunID = xid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.With(nil)
	}

	return &run{
		cfg:       cfg,
		kind:      kind,
		fieldSize: fieldSize,
		alloc:     alloc,
		opts:      opts,
		log: logger.WithFields(logrus.Fields{
			"run_id":   opts.RunID,
			"role":     string(role),
			"strategy": kind.Label(),
		}),
	}, nil
}

func (r *run) workerConfig(role bench.Role) bench.WorkerConfig {
	return bench.WorkerConfig{
		Role:       role,
		Strategy:   r.kind,
		FieldSize:  r.fieldSize,
		Duration:   r.cfg.Duration.Std(),
		WholeUnits: r.cfg.WholeUnits,
		Verify:     r.cfg.Verify,
		SendRate:   r.cfg.SendRate,
		Allocator:  r.alloc,
		Exporter:   r.opts.Exporter,
		Logger:     r.log,
	}
}

func (r *run) info(role bench.Role, concurrency int) metrics.RunInfo {
	return metrics.RunInfo{
		RunID:       r.opts.RunID,
		Role:        string(role),
		Strategy:    r.kind.String(),
		Label:       r.kind.Label(),
		MessageSize: r.cfg.MessageSize,
		Concurrency: concurrency,
	}
}

// startSampler returns a started sampler, or nil when sampling is off or
// unavailable.
func (r *run) startSampler() *sysstat.Sampler {
	if !r.opts.SampleHost {
		return nil
	}
	s, err := sysstat.NewSampler()
	if err == nil {
		err = s.Start()
	}
	if err != nil {
		r.log.WithError(err).Debug("host sampling unavailable")
		return nil
	}
	return s
}

func (r *run) stopSampler(s *sysstat.Sampler) *sysstat.Usage {
	if s == nil {
		return nil
	}
	u, err := s.Stop()
	if err != nil {
		r.log.WithError(err).Debug("host sampling failed")
		return nil
	}
	return &u
}
