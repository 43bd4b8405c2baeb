package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes worker results as Prometheus metrics.
//
// It is only touched when a worker starts or finishes, never inside the
// transfer loop. A nil *Exporter is valid and does nothing.
type Exporter struct {
	registry  *prometheus.Registry
	bytes     *prometheus.CounterVec
	transfers *prometheus.CounterVec
	workers   *prometheus.CounterVec
	active    *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
	offload   *prometheus.CounterVec
}

// NewExporter creates an Exporter with its own registry.
func NewExporter() *Exporter {
	labels := []string{"role", "strategy"}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyperf_bytes_total",
			Help: "Bytes moved by finished workers.",
		}, labels),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyperf_transfers_total",
			Help: "Complete transfer units moved by finished workers.",
		}, labels),
		workers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyperf_workers_finished_total",
			Help: "Finished workers by final state.",
		}, append(labels, "state")),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "copyperf_workers_active",
			Help: "Workers currently running.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copyperf_worker_mean_latency_seconds",
			Help:    "Mean per-call receive latency of each finished worker.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, labels),
		offload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copyperf_offload_sends_total",
			Help: "Offloaded send attempts, and how many fell back to a copy.",
		}, append(labels, "result")),
	}
	e.registry.MustRegister(e.bytes, e.transfers, e.workers, e.active, e.latency, e.offload)
	return e
}

// Registry returns the registry the metrics are registered with.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// WorkerStarted marks one worker active.
func (e *Exporter) WorkerStarted(role, strategy string) {
	if e == nil {
		return
	}
	e.active.WithLabelValues(role, strategy).Inc()
}

// WorkerFinished publishes c and marks the worker inactive.
func (e *Exporter) WorkerFinished(role, strategy string, c Connection) {
	if e == nil {
		return
	}
	e.active.WithLabelValues(role, strategy).Dec()
	e.workers.WithLabelValues(role, strategy, c.State).Inc()
	if !c.Connected {
		return
	}

	e.bytes.WithLabelValues(role, strategy).Add(float64(c.Bytes))
	e.transfers.WithLabelValues(role, strategy).Add(float64(c.Transfers))
	if c.LatencyCalls > 0 {
		e.latency.WithLabelValues(role, strategy).Observe(c.MeanLatency().Seconds())
	}
	if c.Offload.Attempts > 0 {
		fallbacks := c.Offload.Fallbacks
		e.offload.WithLabelValues(role, strategy, "offloaded").Add(float64(c.Offload.Attempts - fallbacks))
		e.offload.WithLabelValues(role, strategy, "fallback").Add(float64(fallbacks))
	}
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. It returns once the
// listener is bound; serving continues in the background.
func (e *Exporter) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()

	return ln.Addr(), nil
}
