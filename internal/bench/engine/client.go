package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/copyperf/internal/bench"
	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
)

// Client dials the server with a fixed number of receiving workers.
type Client struct {
	*run
}

// NewClient validates cfg and returns a client ready to Run.
func NewClient(cfg config.BenchConfig, opts Options) (*Client, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	r, err := newRun(cfg, bench.RoleClient, opts)
	if err != nil {
		return nil, err
	}
	return &Client{run: r}, nil
}

// Run starts every worker at once and waits for all of them. Each worker
// records into the shared aggregate as it finishes; a worker that fails does
// not stop its siblings.
func (c *Client) Run(ctx context.Context) (metrics.Summary, error) {
	lc := bench.NewLifecycle(ctx, c.cfg.Duration.Std())
	defer lc.Stop()

	agg := metrics.NewAggregate(c.cfg.Concurrency)
	sampler := c.startSampler()
	addr := c.cfg.DialAddr()

	c.log.WithFields(logrus.Fields{
		"addr":     addr,
		"workers":  c.cfg.Concurrency,
		"deadline": lc.Deadline().Format(time.RFC3339),
	}).Info("client starting")

	var g errgroup.Group
	for i := 0; i < c.cfg.Concurrency; i++ {
		w := bench.NewClientWorker(i, c.workerConfig(bench.RoleClient), addr)
		g.Go(func() error {
			agg.Record(w.Run(lc.Context()))
			return nil
		})
	}
	_ = g.Wait()

	info := c.info(bench.RoleClient, c.cfg.Concurrency)
	info.Host = c.stopSampler(sampler)
	summary := agg.Summary(info)

	c.log.WithFields(logrus.Fields{
		"bytes":           summary.TotalBytes,
		"failed_workers":  summary.FailedWorkers,
		"throughput_gbps": fmt.Sprintf("%.4f", summary.ThroughputGbps),
		"avg_latency_us":  fmt.Sprintf("%.2f", summary.AvgLatencyUs),
	}).Info("client finished")
	return summary, nil
}
