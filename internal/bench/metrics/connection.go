// Package metrics collects per-connection results and merges them into run
// totals.
//
// A Connection is owned by one worker for the whole run and is only read by
// the aggregator after the worker has returned it. Aggregation happens either
// after all workers joined (Merge, used by the server) or as each worker
// finishes under the Aggregate's lock (Record, used by the client).
package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// Histogram bounds in microseconds: 1µs to 1 minute, 3 significant figures.
const (
	histMin     = 1
	histMax     = 60_000_000
	histSigFigs = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMin, histMax, histSigFigs)
}

// Connection is the result of one worker.
type Connection struct {
	WorkerID int

	// Connected is false when the worker never reached ACTIVE. Such a
	// worker contributes nothing but still counts as spawned.
	Connected bool

	Bytes     uint64
	Transfers uint64

	// LatencyTotal is the sum of all timed receive calls; LatencyCalls is
	// how many there were.
	LatencyTotal time.Duration
	LatencyCalls uint64

	// Elapsed is the worker's wall time from ACTIVE to CLOSED.
	Elapsed time.Duration

	Offload        transport.OffloadStats
	VerifyFailures uint64

	// State is the final state name and Err the error that ended the
	// worker, if any.
	State string
	Err   error

	hist *hdrhistogram.Histogram
}

// NewConnection returns empty metrics for worker id.
func NewConnection(id int) *Connection {
	return &Connection{WorkerID: id, hist: newHistogram()}
}

// ObserveLatency records one timed receive call.
func (c *Connection) ObserveLatency(d time.Duration) {
	c.LatencyTotal += d
	c.LatencyCalls++
	if c.hist == nil {
		c.hist = newHistogram()
	}
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}
	_ = c.hist.RecordValue(us)
}

// AddTransfer records a completed or partial unit of n bytes.
func (c *Connection) AddTransfer(n int, complete bool) {
	if n > 0 {
		c.Bytes += uint64(n)
	}
	if complete {
		c.Transfers++
	}
}

// MeanLatency returns the mean of the timed calls, or 0 when there were none.
func (c *Connection) MeanLatency() time.Duration {
	if c.LatencyCalls == 0 {
		return 0
	}
	return c.LatencyTotal / time.Duration(c.LatencyCalls)
}

// Throughput returns the worker's own throughput in Gbps.
func (c *Connection) Throughput() float64 {
	return ThroughputGbps(c.Bytes, c.Elapsed)
}

// Histogram returns the worker's latency histogram, which may be nil.
func (c *Connection) Histogram() *hdrhistogram.Histogram {
	return c.hist
}

// ThroughputGbps converts bytes moved over elapsed into gigabits per second.
// It returns 0 when elapsed is not positive.
func ThroughputGbps(bytes uint64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) * 8 / (seconds * 1e9)
}
