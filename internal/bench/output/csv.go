package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
)

// CSVHeader is the first row of a results file.
var CSVHeader = []string{
	"run_id", "role", "strategy_label", "message_size", "concurrency",
	"throughput_gbps", "avg_latency_us", "total_bytes", "total_transfers",
	"elapsed_s", "p50_us", "p99_us", "offload_fallbacks", "failed_workers",
}

// CSVRecord returns s as a row matching CSVHeader.
func CSVRecord(s metrics.Summary) []string {
	return []string{
		s.RunID,
		s.Role,
		s.Label,
		strconv.Itoa(s.MessageSize),
		strconv.Itoa(s.Concurrency),
		strconv.FormatFloat(s.ThroughputGbps, 'f', 4, 64),
		strconv.FormatFloat(s.AvgLatencyUs, 'f', 2, 64),
		strconv.FormatUint(s.TotalBytes, 10),
		strconv.FormatUint(s.TotalTransfers, 10),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
		strconv.FormatInt(s.Latency.P50, 10),
		strconv.FormatInt(s.Latency.P99, 10),
		strconv.FormatUint(s.Offload.Fallbacks, 10),
		strconv.Itoa(s.FailedWorkers),
	}
}

// AppendCSV appends s to the results file at path, writing the header first
// when the file is new or empty.
func AppendCSV(path string, s metrics.Summary) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat results file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return err
		}
	}
	if err := w.Write(CSVRecord(s)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write results file: %w", err)
	}
	return f.Close()
}
