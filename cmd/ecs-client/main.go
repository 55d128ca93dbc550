package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ipi-ecs/ecs/pkg/client"
	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/log"
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
	Use:     "ecs-client",
	Short:   "DDS client runtime and demo subsystem driver",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ecs-client version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(demoCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Connect to a broker and declare the subsystems named in --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, _ := cmd.Flags().GetString("broker")
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := loadDemoConfig(configPath)
		if err != nil {
			return err
		}
		if len(cfg.Subsystems) == 0 {
			return fmt.Errorf("ecs-client: config declares no subsystems")
		}

		port := dds.ResolvePort(0)
		addr := broker
		if addr == "" {
			addr = fmt.Sprintf("127.0.0.1:%d", port)
		}

		c := client.New(log.Logger, addr)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("ecs-client: connect: %w", err)
		}
		defer c.Close()
		log.Logger.Info().Str("addr", addr).Str("uuid", c.UUID().String()).Msg("connected")

		for _, sc := range cfg.Subsystems {
			declareSubsystem(c, sc)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		log.Logger.Info().Msg("demo subsystems declared, press Ctrl+C to stop")
		<-sigCh
		log.Logger.Info().Msg("shutting down")
		return nil
	},
}

func declareSubsystem(c *client.Client, sc SubsystemConfig) {
	sys := c.NewSubsystem(sc.Name, sc.Temporary)
	l := log.Logger.With().Str("subsystem", sc.Name).Logger()

	for _, kv := range sc.KVs {
		typ := typeSpecifierFromName(kv.Type)
		prop := sys.NewLocalProperty(kv.Key, typ, kv.Readable, kv.Writable, kv.Published)
		if kv.Initial != "" {
			if err := prop.Write([]byte(kv.Initial)); err != nil {
				l.Warn().Err(err).Str("key", kv.Key).Msg("failed to publish initial value")
			}
		}
		prop.OnSet(func(value []byte) {
			l.Info().Str("key", kv.Key).Bytes("value", value).Msg("property set by peer")
		})
	}

	for _, ev := range sc.Events {
		name := ev.Name
		handler := client.NewEventHandler(name, dds.UnspecType{}, dds.UnspecType{}, func(sender uuid.UUID, param []byte, handle *client.IncomingEvent) {
			l.Info().Str("event", name).Str("sender", sender.String()).Msg("event invoked, echoing")
			handle.Ret(param)
		})
		sys.AddEventHandler(handler)
	}

	l.Info().Str("uuid", sys.UUID().String()).Msg("subsystem registered")
}

func init() {
	demoCmd.Flags().String("broker", "", fmt.Sprintf("Broker address (default 127.0.0.1:%d, or %s)", dds.DefaultPort, dds.PortEnvVar))
	demoCmd.Flags().String("config", "subsystems.yaml", "Path to a subsystem declaration file")
}
