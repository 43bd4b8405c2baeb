package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/engine"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and measure receive throughput and latency",
		Long: `Open --threads connections to the server and receive messages on each until
--duration elapses. Every receive of a full message is timed; the report
shows aggregate throughput and the mean of the per-connection mean latencies.`,
		Example: `  copyperf client -i 10.0.0.2 -p 8080 -s 65536 -t 8 -d 30 --strategy zerocopy`,
		Args:    cobra.NoArgs,
		RunE:    runClient,
	}

	f := cmd.Flags()
	f.StringP("address", "i", config.DefaultAddress, "server address")
	f.IntP("threads", "t", config.DefaultConcurrency, "number of concurrent connections")
	return cmd
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	exp, err := startExporter(ctx, cfg)
	if err != nil {
		return err
	}
	sampleHost, _ := cmd.Flags().GetBool("sample-host")

	cl, err := engine.NewClient(cfg.Bench, engine.Options{Exporter: exp, SampleHost: sampleHost})
	if err != nil {
		return err
	}
	summary, err := cl.Run(ctx)
	if err != nil {
		return err
	}
	return report(cmd, cfg, summary)
}
