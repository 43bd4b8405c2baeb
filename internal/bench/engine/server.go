package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/copyperf/internal/bench"
	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

const acceptRetryDelay = 50 * time.Millisecond

// Server accepts benchmark connections and transmits on each of them.
type Server struct {
	*run
}

// NewServer validates cfg and returns a server ready to Run.
func NewServer(cfg config.BenchConfig, opts Options) (*Server, error) {
	r, err := newRun(cfg, bench.RoleServer, opts)
	if err != nil {
		return nil, err
	}
	return &Server{run: r}, nil
}

// Run listens and accepts until the watchdog fires at duration + grace or ctx
// is cancelled, then joins every worker and merges their metrics.
//
// Each worker stops transmitting at its own nominal deadline, so a client that
// connects late still gets a full run if it fits inside the grace period. An
// error is returned only when the server cannot start.
func (s *Server) Run(ctx context.Context) (metrics.Summary, error) {
	lc := bench.NewLifecycle(ctx, s.cfg.Duration.Std())
	defer lc.Stop()

	var lcfg net.ListenConfig
	ln, err := lcfg.Listen(lc.Context(), "tcp", s.cfg.ListenAddr())
	if err != nil {
		return metrics.Summary{}, fmt.Errorf("listen %s: %w", s.cfg.ListenAddr(), err)
	}
	tl := ln.(*net.TCPListener)
	defer tl.Close()

	s.log.WithFields(logrus.Fields{
		"addr":     tl.Addr().String(),
		"deadline": lc.Deadline().Format(time.RFC3339),
		"grace":    s.cfg.Grace.Std().String(),
	}).Info("server listening")
	if s.opts.OnListen != nil {
		s.opts.OnListen(tl.Addr())
	}

	lc.StartWatchdog(s.cfg.Duration.Std() + s.cfg.Grace.Std())
	sampler := s.startSampler()

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConnections)
	var slots []*metrics.Connection
	var active atomic.Int32

	wcfg := s.workerConfig(bench.RoleServer)
	wcfg.ForceStop = lc.Expired()

	s.acceptLoop(lc, tl, func(conn net.Conn) bool {
		slot := metrics.NewConnection(len(slots))
		w := bench.NewServerWorker(len(slots), wcfg, conn)
		admitted := g.TryGo(func() error {
			active.Add(1)
			defer active.Add(-1)
			*slot = w.Run(lc.Context())
			return nil
		})
		if admitted {
			slots = append(slots, slot)
		}
		return admitted
	})
	_ = tl.Close()

	if n := active.Load(); n > 0 && lc.WatchdogFired() {
		s.log.WithField("workers", n).Warn("watchdog stopped workers still running")
	}
	_ = g.Wait()

	conns := make([]metrics.Connection, len(slots))
	for i, slot := range slots {
		conns[i] = *slot
	}
	agg := metrics.Merge(len(conns), conns)

	info := s.info(bench.RoleServer, len(conns))
	info.Host = s.stopSampler(sampler)
	summary := agg.Summary(info)

	s.log.WithFields(logrus.Fields{
		"workers":         len(conns),
		"bytes":           summary.TotalBytes,
		"throughput_gbps": fmt.Sprintf("%.4f", summary.ThroughputGbps),
	}).Info("server finished")
	return summary, nil
}

// acceptLoop hands each accepted connection to admit until the run context
// ends. Connections admit refuses are closed.
func (s *Server) acceptLoop(lc *bench.Lifecycle, tl *net.TCPListener, admit func(net.Conn) bool) {
	ctx := lc.Context()
	for ctx.Err() == nil {
		_ = tl.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout.Std()))

		conn, err := tl.Accept()
		if err != nil {
			if transport.IsTimeout(err) || transport.IsTransient(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}

		if !admit(conn) {
			s.log.WithFields(logrus.Fields{
				"remote": conn.RemoteAddr().String(),
				"limit":  s.cfg.MaxConnections,
			}).Warn("connection limit reached, rejecting")
			_ = conn.Close()
			continue
		}
		s.log.WithField("remote", conn.RemoteAddr().String()).Debug("connection accepted")
	}
}
