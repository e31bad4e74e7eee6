package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"page-dewarp/internal/metrics"
	"page-dewarp/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dewarp HTTP API",
	Long: `Serve POST /dewarp (image in, flattened image out), /healthz and
/metrics. Requests beyond --max-concurrent or running longer than --timeout
are answered with 503 and X-Dewarp-Status: resource_exhausted.

  curl --data-binary @scan.jpg 'http://localhost:8080/dewarp?binary=false' -o flat.png`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	def := server.DefaultOptions()
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Duration("timeout", def.Timeout, "per-request dewarp time limit (0 disables)")
	serveCmd.Flags().Int("max-concurrent", def.MaxConcurrent, "simultaneous dewarp runs")
	serveCmd.Flags().Int64("max-body", def.MaxBodyBytes, "maximum upload size in bytes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	engine, err := newEngine(cmd)
	if err != nil {
		return err
	}

	opts := server.DefaultOptions()
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")
	opts.MaxBodyBytes, _ = cmd.Flags().GetInt64("max-body")
	addr, _ := cmd.Flags().GetString("addr")

	collectors := metrics.New(prometheus.DefaultRegisterer)
	srv := server.New(engine, cfg, opts, collectors, prometheus.DefaultGatherer, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr)
}
