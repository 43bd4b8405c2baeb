package bench

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	"github.com/wesleyorama2/copyperf/internal/bench/pace"
	"github.com/wesleyorama2/copyperf/internal/bench/strategy"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
	"github.com/wesleyorama2/copyperf/internal/log"
)

// WorkerConfig holds what every worker of a run shares.
type WorkerConfig struct {
	Role      Role
	Strategy  strategy.Kind
	FieldSize int
	Duration  time.Duration

	// WholeUnits makes each receive iteration continue until a complete
	// Transfer Unit has arrived, timed as one sample. By default every
	// receive call is its own iteration, transfer and latency sample.
	WholeUnits bool

	// Verify checks each received unit against the fill pattern. It
	// implies WholeUnits.
	Verify bool

	// SendRate caps sends per second on each server connection. Zero sends
	// as fast as the connection allows.
	SendRate float64

	// Allocator backs message fields and receive buffers. Defaults to the heap.
	Allocator message.Allocator

	// Exporter, if set, is updated when the worker starts and finishes.
	Exporter *metrics.Exporter

	// ForceStop, when done, wakes a call blocked on the connection by
	// expiring its deadline. The server passes its watchdog here. Without
	// it a blocked call returns only on data, peer action or error.
	ForceStop context.Context

	// Logger defaults to the process logger.
	Logger *logrus.Entry
}

// Worker drives one connection from connect to close.
//
// A Worker is used by exactly one goroutine. Only State may be read
// concurrently.
type Worker struct {
	id    int
	cfg   WorkerConfig
	conn  net.Conn
	addr  string
	state atomic.Int32
	log   *logrus.Entry
}

// NewServerWorker returns a worker for an accepted connection.
func NewServerWorker(id int, cfg WorkerConfig, conn net.Conn) *Worker {
	return newWorker(id, cfg, conn, "")
}

// NewClientWorker returns a worker that dials addr when run.
func NewClientWorker(id int, cfg WorkerConfig, addr string) *Worker {
	return newWorker(id, cfg, nil, addr)
}

func newWorker(id int, cfg WorkerConfig, conn net.Conn, addr string) *Worker {
	if cfg.Allocator == nil {
		cfg.Allocator = message.HeapAllocator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.With(nil)
	}
	return &Worker{
		id:   id,
		cfg:  cfg,
		conn: conn,
		addr: addr,
		log: logger.WithFields(logrus.Fields{
			"worker":   id,
			"role":     string(cfg.Role),
			"strategy": cfg.Strategy.Label(),
		}),
	}
}

// State returns the current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// session is what a worker owns while ACTIVE.
type session struct {
	conn     *transport.Conn
	msg      *message.Message
	sender   strategy.Sender
	receiver strategy.Receiver
	pacer    *pace.Pacer
}

func (s *session) close() {
	if s.sender != nil {
		_ = s.sender.Close()
	}
	if s.receiver != nil {
		_ = s.receiver.Close()
	}
	s.msg.Destroy()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// Run executes the worker on the calling goroutine, which stays locked to its
// OS thread until Run returns. It always returns the worker's metrics; a
// worker that never connected reports Connected=false.
//
// Cancellation of ctx is observed only between calls; a call blocked in the
// kernel keeps blocking unless ForceStop ends.
func (w *Worker) Run(ctx context.Context) metrics.Connection {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m := metrics.NewConnection(w.id)
	role, kind := string(w.cfg.Role), w.cfg.Strategy.String()
	w.cfg.Exporter.WorkerStarted(role, kind)
	defer func() { w.cfg.Exporter.WorkerFinished(role, kind, *m) }()

	w.setState(StateConnecting)
	s, err := w.open(ctx)
	if err != nil {
		w.log.WithError(err).Error("worker failed to start")
		m.Err = err
		w.finish(m, StateFailed)
		return *m
	}
	defer s.close()

	m.Connected = true
	if w.cfg.ForceStop != nil {
		stopWake := context.AfterFunc(w.cfg.ForceStop, func() {
			_ = s.conn.SetDeadline(time.Now())
		})
		defer stopWake()
	}

	w.setState(StateActive)
	w.log.Debug("worker active")

	start := time.Now()
	end := w.loop(ctx, s, m, start.Add(w.cfg.Duration))
	m.Elapsed = time.Since(start)

	if r, ok := s.sender.(strategy.OffloadReporter); ok {
		m.Offload = r.OffloadStats()
	}
	if s.pacer != nil {
		st := s.pacer.Stats()
		w.log = w.log.WithFields(logrus.Fields{
			"send_rate":   st.Rate,
			"paced_sends": st.Sends,
			"paced_wait":  st.Waited.String(),
		})
	}
	w.finish(m, end)
	return *m
}

// open connects and builds the strategy for this worker's role.
func (w *Worker) open(ctx context.Context) (*session, error) {
	conn := w.conn
	if conn == nil {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", w.addr)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", w.addr, err)
		}
		conn = c
	}

	tc, err := transport.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s := &session{conn: tc}

	opts := strategy.Options{Allocator: w.cfg.Allocator, Logger: w.log}
	switch w.cfg.Role {
	case RoleServer:
		s.msg, err = message.Build(w.cfg.FieldSize, w.cfg.Allocator)
		if err == nil {
			s.sender, err = strategy.NewSender(w.cfg.Strategy, tc, s.msg, opts)
		}
		if w.cfg.SendRate > 0 {
			s.pacer = pace.New(w.cfg.SendRate)
		}
	case RoleClient:
		s.receiver, err = strategy.NewReceiver(w.cfg.Strategy, tc, w.cfg.FieldSize, opts)
	default:
		err = fmt.Errorf("unknown role %q", w.cfg.Role)
	}
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// loop moves units until the deadline, cancellation, peer close or a fatal
// error and returns the state the worker leaves ACTIVE through.
func (w *Worker) loop(ctx context.Context, s *session, m *metrics.Connection, deadline time.Time) State {
	verifyLogged := false
	var receive func() (int, error)
	if s.receiver != nil {
		receive = s.receiver.Receive
		if w.cfg.WholeUnits || w.cfg.Verify {
			receive = s.receiver.ReceiveUnit
		}
	}
	paceCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return StateDraining
		}

		var n int
		var err error
		if s.sender != nil {
			if s.pacer != nil && s.pacer.Wait(paceCtx) != nil {
				return StateDraining
			}
			n, err = s.sender.Send()
		} else {
			t0 := time.Now()
			n, err = receive()
			if err == nil {
				m.ObserveLatency(time.Since(t0))
				if w.cfg.Verify {
					if verr := message.Verify(s.receiver.Fields()); verr != nil {
						m.VerifyFailures++
						if !verifyLogged {
							w.log.WithError(verr).Warn("received unit does not match pattern")
							verifyLogged = true
						}
					}
				}
			}
		}
		m.AddTransfer(n, err == nil)

		if err == nil {
			continue
		}
		switch {
		case transport.IsTransient(err):
			continue
		case transport.IsPeerClosed(err):
			w.log.WithError(err).Debug("peer closed connection")
			return StateDraining
		case transport.IsTimeout(err) && ctx.Err() != nil:
			return StateDraining
		case errors.Is(err, context.Canceled):
			return StateDraining
		default:
			m.Err = err
			w.log.WithError(err).Error("transfer failed")
			return StateFailed
		}
	}
}

func (w *Worker) finish(m *metrics.Connection, end State) {
	w.setState(end)
	m.State = end.String()
	w.setState(StateClosed)

	if !m.Connected {
		return
	}
	w.log.WithFields(logrus.Fields{
		"state":           m.State,
		"bytes":           m.Bytes,
		"transfers":       m.Transfers,
		"elapsed":         m.Elapsed.String(),
		"throughput_gbps": fmt.Sprintf("%.4f", m.Throughput()),
		"avg_latency_us":  fmt.Sprintf("%.2f", float64(m.MeanLatency())/float64(time.Microsecond)),
	}).Info("worker finished")
}
