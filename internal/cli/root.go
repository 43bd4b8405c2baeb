package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	benchout "github.com/wesleyorama2/copyperf/internal/bench/output"
	"github.com/wesleyorama2/copyperf/internal/log"
	"github.com/wesleyorama2/copyperf/internal/output"
)

var version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "copyperf",
		Short:   "Measure TCP throughput and latency of three data-movement strategies",
		Version: version,
		Long: `copyperf compares three ways of moving a fixed 8-field message over TCP:

  copy            materialize the fields into one buffer, then send it   (two_copy)
  scatter-gather  hand the fields to one vectored sendmsg                 (one_copy)
  zerocopy        vectored sendmsg with MSG_ZEROCOPY and per-call fallback (zero_copy)

Start "copyperf server" on one host, then "copyperf client" against it with
the same strategy and message size. Both print a summary ending in a CSV line.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	f := root.PersistentFlags()
	f.String("config", "", "YAML or JSON configuration file")
	f.String("strategy", config.DefaultStrategy, "copy, scatter-gather or zerocopy (A1/A2/A3 also accepted)")
	f.IntP("port", "p", config.DefaultPort, "server port")
	f.IntP("size", "s", config.DefaultMessageSize, "message size in bytes (split across 8 fields)")
	f.StringP("duration", "d", config.DefaultDuration.String(), "test duration (\"30s\" or whole seconds)")
	f.String("allocator", config.DefaultAllocator, "buffer allocator: heap or page")
	f.Bool("verify", false, "check every received unit against the fill pattern")
	f.Bool("whole-units", false, "time whole units instead of single receive calls")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	f.String("csv-out", "", "append the run summary to this CSV file")
	f.String("output", "text", "summary format: text, json or yaml")
	f.Bool("json", false, "shorthand for --output json")
	f.BoolP("verbose", "v", false, "show one line per worker")
	f.Bool("no-color", false, "disable colored output")
	f.Bool("sample-host", true, "report process CPU time and context switches")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format: text or json")
	f.String("log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(newServerCmd())
	root.AddCommand(newClientCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

// loadConfig reads --config, applies flag overrides, validates the result and
// initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(f, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func changed(f *pflag.FlagSet, name string) bool {
	fl := f.Lookup(name)
	return fl != nil && fl.Changed
}

// applyFlags copies explicitly set flags over file values.
func applyFlags(f *pflag.FlagSet, cfg *config.Config) error {
	b := &cfg.Bench
	if changed(f, "address") {
		b.Address, _ = f.GetString("address")
	}
	if changed(f, "port") {
		b.Port, _ = f.GetInt("port")
	}
	if changed(f, "size") {
		b.MessageSize, _ = f.GetInt("size")
	}
	if changed(f, "threads") {
		b.Concurrency, _ = f.GetInt("threads")
	}
	if changed(f, "strategy") {
		b.Strategy, _ = f.GetString("strategy")
	}
	if changed(f, "allocator") {
		b.Allocator, _ = f.GetString("allocator")
	}
	if changed(f, "verify") {
		b.Verify, _ = f.GetBool("verify")
	}
	if changed(f, "whole-units") {
		b.WholeUnits, _ = f.GetBool("whole-units")
	}
	if changed(f, "metrics-addr") {
		b.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if changed(f, "csv-out") {
		b.CSVOut, _ = f.GetString("csv-out")
	}
	if changed(f, "send-rate") {
		b.SendRate, _ = f.GetFloat64("send-rate")
	}
	if changed(f, "max-connections") {
		b.MaxConnections, _ = f.GetInt("max-connections")
	}

	durations := []struct {
		flag string
		dst  *config.Duration
	}{
		{"duration", &b.Duration},
		{"grace", &b.Grace},
		{"accept-timeout", &b.AcceptTimeout},
	}
	for _, d := range durations {
		if !changed(f, d.flag) {
			continue
		}
		s, _ := f.GetString(d.flag)
		v, err := config.ParseDurationString(s)
		if err != nil {
			return fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.dst = config.Duration(v)
	}

	l := &cfg.Logging
	if changed(f, "log-level") {
		l.Level, _ = f.GetString("log-level")
	}
	if changed(f, "log-format") {
		l.Format, _ = f.GetString("log-format")
	}
	if changed(f, "log-file") {
		l.FilePath, _ = f.GetString("log-file")
		l.Output = "file"
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// startExporter serves Prometheus metrics when metrics_addr is set.
func startExporter(ctx context.Context, cfg *config.Config) (*metrics.Exporter, error) {
	if cfg.Bench.MetricsAddr == "" {
		return nil, nil
	}
	exp := metrics.NewExporter()
	addr, err := exp.Serve(ctx, cfg.Bench.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	log.With(nil).WithField("addr", addr.String()).Info("serving metrics on /metrics")
	return exp, nil
}

// report writes s in the requested format and appends it to the CSV file.
func report(cmd *cobra.Command, cfg *config.Config, s metrics.Summary) error {
	f := cmd.Flags()
	formatName, _ := f.GetString("output")
	if asJSON, _ := f.GetBool("json"); asJSON {
		formatName = string(output.FormatJSON)
	}
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format == output.FormatText {
		verbose, _ := f.GetBool("verbose")
		noColor, _ := f.GetBool("no-color")
		benchout.NewConsole(benchout.ConsoleConfig{Writer: w, Verbose: verbose, NoColor: noColor}).PrintSummary(s)
	} else {
		if err := output.Encode(w, s, format); err != nil {
			return err
		}
		// Keep stdout machine-readable; the canonical line still goes out.
		fmt.Fprintln(cmd.ErrOrStderr(), s.CSVLine())
	}

	if cfg.Bench.CSVOut != "" {
		if err := benchout.AppendCSV(cfg.Bench.CSVOut, s); err != nil {
			log.L().WithError(err).Error("could not append results")
		}
	}
	return nil
}
