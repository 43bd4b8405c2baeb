//go:build ignore

// Sweep runs paired loopback server/client benchmarks over every strategy and a
// grid of message sizes and thread counts, printing each client CSV line and
// appending the full summary to a results file.
//
//	go run scripts/sweep.go -out results.csv -d 5s -sizes 1024,65536 -threads 1,4
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/engine"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	"github.com/wesleyorama2/copyperf/internal/bench/output"
	"github.com/wesleyorama2/copyperf/internal/bench/strategy"
	"github.com/wesleyorama2/copyperf/internal/log"
)

func main() {
	out := flag.String("out", "sweep.csv", "results CSV (appended)")
	duration := flag.Duration("d", 5*time.Second, "duration of each run")
	sizes := flag.String("sizes", "1024,4096,16384,65536", "comma-separated message sizes")
	threads := flag.String("threads", "1,2,4,8", "comma-separated client thread counts")
	flag.Parse()

	logCfg := config.Default().Logging
	logCfg.Level = "warn"
	if err := log.Init(logCfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sizeList, err := parseInts(*sizes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-sizes:", err)
		os.Exit(2)
	}
	threadList, err := parseInts(*threads)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-threads:", err)
		os.Exit(2)
	}

	total := len(strategy.Kinds()) * len(sizeList) * len(threadList)
	fmt.Printf("Running %d configurations of %v each\n\n", total, *duration)

	failed := 0
	for _, kind := range strategy.Kinds() {
		for _, size := range sizeList {
			for _, t := range threadList {
				s, err := runOnce(kind, size, t, *duration)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s size=%d threads=%d: %v\n", kind.Label(), size, t, err)
					failed++
					continue
				}
				fmt.Println(s.CSVLine())
				if err := output.AppendCSV(*out, s); err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
			}
		}
	}

	fmt.Printf("\n%d of %d runs written to %s\n", total-failed, total, *out)
	if failed > 0 {
		os.Exit(1)
	}
}

// runOnce starts a server on an ephemeral loopback port, runs the client
// against it and returns the client's summary.
func runOnce(kind strategy.Kind, size, threads int, d time.Duration) (metrics.Summary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srvCfg := config.Default().Bench
	srvCfg.Port = 0
	srvCfg.Strategy = string(kind)
	srvCfg.MessageSize = size
	srvCfg.Duration = config.Duration(d + 500*time.Millisecond)
	srvCfg.Grace = config.Duration(2 * time.Second)

	listening := make(chan net.Addr, 1)
	srv, err := engine.NewServer(srvCfg, engine.Options{OnListen: func(a net.Addr) { listening <- a }})
	if err != nil {
		return metrics.Summary{}, err
	}
	srvErr := make(chan error, 1)
	go func() {
		_, err := srv.Run(ctx)
		srvErr <- err
	}()

	var addr net.Addr
	select {
	case addr = <-listening:
	case err := <-srvErr:
		return metrics.Summary{}, fmt.Errorf("server: %w", err)
	}

	cliCfg := srvCfg
	cliCfg.Address = "127.0.0.1"
	cliCfg.Port = addr.(*net.TCPAddr).Port
	cliCfg.Duration = config.Duration(d)
	cliCfg.Concurrency = threads

	cl, err := engine.NewClient(cliCfg, engine.Options{SampleHost: true})
	if err != nil {
		return metrics.Summary{}, err
	}
	s, err := cl.Run(ctx)
	if err != nil {
		return metrics.Summary{}, err
	}
	// The server would otherwise keep accepting until its grace runs out.
	cancel()
	if err := <-srvErr; err != nil {
		return metrics.Summary{}, fmt.Errorf("server: %w", err)
	}
	if s.FailedWorkers > 0 {
		return s, fmt.Errorf("%d of %d workers failed", s.FailedWorkers, threads)
	}
	return s, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
