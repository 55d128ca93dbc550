package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ipi-ecs/ecs/pkg/broker"
	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/log"
	"github.com/ipi-ecs/ecs/pkg/logclient"
	"github.com/ipi-ecs/ecs/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ecs-broker",
	Short:   "DDS broker for the experiment control bus",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ecs-broker version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker's accept loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		addrFlag, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		logServer, _ := cmd.Flags().GetString("log-server")

		port := dds.ResolvePort(0)
		addr := addrFlag
		if addr == "" {
			addr = fmt.Sprintf(":%d", port)
		}

		collector := metrics.NewCollector(nil)
		b := broker.New(log.Logger, collector)
		b.SetLogClient(logclient.New(logServer))

		metrics.SetVersion(Version)
		metrics.RegisterComponent("registry", true, "ready")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			if err := b.Serve(ctx, addr); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
		metrics.RegisterComponent("listener", true, "listening on "+addr)

		collector.Start()
		defer collector.Stop()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Logger.Info().Str("addr", addr).Str("metrics_addr", metricsAddr).Msg("ecs-broker starting")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			cancel()
			return fmt.Errorf("broker: %w", err)
		}
		cancel()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", fmt.Sprintf("DDS listen address (default :%d, or %s)", dds.DefaultPort, dds.PortEnvVar))
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9732", "Prometheus/health HTTP address")
	serveCmd.Flags().String("log-server", "", "Optional logging ingest server address (host:port)")
}
