package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
	"github.com/wesleyorama2/copyperf/internal/bench/engine"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept connections and transmit messages on each",
		Long: `Listen on --port and give every accepted connection its own worker that
sends messages with the selected strategy until --duration elapses.

The server stops accepting at the end of the duration and force-stops any
worker still running after --grace more.`,
		Example: `  copyperf server -p 8080 -s 65536 -d 30 --strategy zerocopy`,
		Args:    cobra.NoArgs,
		RunE:    runServer,
	}

	f := cmd.Flags()
	f.Int("max-connections", config.DefaultMaxConnections, "maximum concurrently served connections")
	f.String("grace", config.DefaultGrace.String(), "extra time after --duration before workers are stopped")
	f.Float64("send-rate", 0, "messages per second per connection (0 = unlimited)")
	f.String("accept-timeout", config.DefaultAcceptTimeout.String(), "how long each accept waits before re-checking for shutdown")
	return cmd
}

func runServer(cmd *cobra.Command, _ []string) error {
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

	srv, err := engine.NewServer(cfg.Bench, engine.Options{Exporter: exp, SampleHost: sampleHost})
	if err != nil {
		return err
	}
	summary, err := srv.Run(ctx)
	if err != nil {
		return err
	}
	return report(cmd, cfg, summary)
}
