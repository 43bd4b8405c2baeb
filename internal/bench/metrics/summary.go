package metrics

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/copyperf/internal/bench/sysstat"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// LatencyStats holds percentile statistics in microseconds.
type LatencyStats struct {
	Min  int64   `json:"min_us"`
	Mean float64 `json:"mean_us"`
	P50  int64   `json:"p50_us"`
	P90  int64   `json:"p90_us"`
	P99  int64   `json:"p99_us"`
	Max  int64   `json:"max_us"`
}

// WorkerSummary is one worker's line in the report.
type WorkerSummary struct {
	ID             int           `json:"id"`
	State          string        `json:"state"`
	Connected      bool          `json:"connected"`
	Bytes          uint64        `json:"bytes"`
	Transfers      uint64        `json:"transfers"`
	Elapsed        time.Duration `json:"elapsed"`
	ThroughputGbps float64       `json:"throughput_gbps"`
	AvgLatencyUs   float64       `json:"avg_latency_us"`
	Error          string        `json:"error,omitempty"`
}

func summarizeWorker(c Connection) WorkerSummary {
	w := WorkerSummary{
		ID:             c.WorkerID,
		State:          c.State,
		Connected:      c.Connected,
		Bytes:          c.Bytes,
		Transfers:      c.Transfers,
		Elapsed:        c.Elapsed,
		ThroughputGbps: c.Throughput(),
		AvgLatencyUs:   float64(c.MeanLatency()) / float64(time.Microsecond),
	}
	if c.Err != nil {
		w.Error = c.Err.Error()
	}
	return w
}

// RunInfo describes the run a Summary belongs to.
type RunInfo struct {
	RunID       string
	Role        string
	Strategy    string
	Label       string
	MessageSize int
	Concurrency int
	Host        *sysstat.Usage
}

// Summary is the final report of one run.
type Summary struct {
	RunID          string                 `json:"run_id"`
	Role           string                 `json:"role"`
	Strategy       string                 `json:"strategy"`
	Label          string                 `json:"strategy_label"`
	MessageSize    int                    `json:"message_size"`
	Concurrency    int                    `json:"concurrency"`
	ThroughputGbps float64                `json:"throughput_gbps"`
	AvgLatencyUs   float64                `json:"avg_latency_us"`
	TotalBytes     uint64                 `json:"total_bytes"`
	TotalTransfers uint64                 `json:"total_transfers"`
	Elapsed        time.Duration          `json:"elapsed"`
	Latency        LatencyStats           `json:"latency"`
	Workers        []WorkerSummary        `json:"workers"`
	FailedWorkers  int                    `json:"failed_workers"`
	Offload        transport.OffloadStats `json:"offload"`
	VerifyFailures uint64                 `json:"verify_failures,omitempty"`
	Host           *sysstat.Usage         `json:"host,omitempty"`
}

// Summary builds the report for info from the current totals.
func (a *Aggregate) Summary(info RunInfo) Summary {
	d := a.Derive()

	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		RunID:          info.RunID,
		Role:           info.Role,
		Strategy:       info.Strategy,
		Label:          info.Label,
		MessageSize:    info.MessageSize,
		Concurrency:    info.Concurrency,
		ThroughputGbps: d.ThroughputGbps,
		AvgLatencyUs:   d.AvgLatencyUs,
		TotalBytes:     a.totalBytes,
		TotalTransfers: a.totalTransfers,
		Elapsed:        a.elapsed,
		Workers:        append([]WorkerSummary(nil), a.workers...),
		FailedWorkers:  a.failed,
		Offload:        a.offload,
		VerifyFailures: a.verifyFailures,
		Host:           info.Host,
	}
	if a.hist.TotalCount() > 0 {
		s.Latency = LatencyStats{
			Min:  a.hist.Min(),
			Mean: a.hist.Mean(),
			P50:  a.hist.ValueAtQuantile(50),
			P90:  a.hist.ValueAtQuantile(90),
			P99:  a.hist.ValueAtQuantile(99),
			Max:  a.hist.Max(),
		}
	}
	return s
}

// CSVLine returns the canonical one-line result:
// CSV: <label>,<message_size>,<concurrency>,<gbps>,<latency_us>,<total_bytes>
func (s Summary) CSVLine() string {
	return fmt.Sprintf("CSV: %s,%d,%d,%.4f,%.2f,%d",
		s.Label, s.MessageSize, s.Concurrency, s.ThroughputGbps, s.AvgLatencyUs, s.TotalBytes)
}
