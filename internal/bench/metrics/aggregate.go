package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// Aggregate holds the run totals.
//
// Use Record from concurrently finishing workers; the lock makes it safe.
// Merge builds an Aggregate from results collected after every worker joined.
type Aggregate struct {
	mu sync.Mutex

	spawned        int
	totalBytes     uint64
	totalTransfers uint64
	elapsed        time.Duration
	latencySum     time.Duration
	offload        transport.OffloadStats
	verifyFailures uint64
	failed         int

	hist    *hdrhistogram.Histogram
	workers []WorkerSummary
}

// NewAggregate returns an empty Aggregate for spawned workers.
func NewAggregate(spawned int) *Aggregate {
	return &Aggregate{spawned: spawned, hist: newHistogram()}
}

// Record merges one finished worker. The representative elapsed time becomes
// that of the most recently recorded worker.
func (a *Aggregate) Record(c Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.add(c) {
		a.elapsed = c.Elapsed
	}
}

// Merge folds results gathered after join. The representative elapsed time
// is the longest of any worker.
func Merge(spawned int, conns []Connection) *Aggregate {
	a := NewAggregate(spawned)
	for _, c := range conns {
		if a.add(c) && c.Elapsed > a.elapsed {
			a.elapsed = c.Elapsed
		}
	}
	return a
}

// add folds c into the totals and reports whether it contributed.
func (a *Aggregate) add(c Connection) bool {
	a.workers = append(a.workers, summarizeWorker(c))
	if c.Err != nil {
		a.failed++
	}
	if !c.Connected {
		return false
	}

	a.totalBytes += c.Bytes
	a.totalTransfers += c.Transfers
	a.latencySum += c.MeanLatency()
	a.offload.Attempts += c.Offload.Attempts
	a.offload.Fallbacks += c.Offload.Fallbacks
	a.verifyFailures += c.VerifyFailures
	if h := c.Histogram(); h != nil {
		a.hist.Merge(h)
	}
	return true
}

// Derived holds the computed run figures.
type Derived struct {
	ThroughputGbps float64
	// AvgLatencyUs is the sum of per-worker mean latencies divided by the
	// number of spawned workers.
	AvgLatencyUs float64
}

// Derive computes throughput and average latency from the totals.
func (a *Aggregate) Derive() Derived {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := Derived{ThroughputGbps: ThroughputGbps(a.totalBytes, a.elapsed)}
	if a.spawned > 0 {
		d.AvgLatencyUs = float64(a.latencySum) / float64(time.Microsecond) / float64(a.spawned)
	}
	return d
}

// TotalBytes returns the bytes summed over all contributing workers.
func (a *Aggregate) TotalBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalBytes
}

// TotalTransfers returns the completed units summed over all workers.
func (a *Aggregate) TotalTransfers() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalTransfers
}

// Elapsed returns the representative elapsed time.
func (a *Aggregate) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.elapsed
}

// Workers returns a copy of the per-worker summaries in recording order.
func (a *Aggregate) Workers() []WorkerSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]WorkerSummary(nil), a.workers...)
}
