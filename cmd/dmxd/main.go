package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/logger"
	"github.com/atrep123/dmx-core/server"
)

// Version is stamped by the build.
var Version = "dev"

var (
	configPath string
	jsonLogs   bool
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "dmxd",
	Short: "dmxd - realtime DMX512 lighting control server",
	Long: `dmxd - realtime DMX512 lighting control server.

dmxd merges commands from HTTP/REST, WebSocket, MQTT, sACN (E1.31) and a
serial DMX input line into canonical per-universe frames and re-emits them to
WebSocket subscribers, an MQTT retained topic, and OLA or Enttec DMX outputs.

Examples:
  dmxd serve                    # Start with dmx-core.yaml / env config
  dmxd serve --config prod.yaml # Start with an explicit config file
  dmxd version                  # Print the build version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DMX core server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			cfg *config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}

		srv, err := server.New(cfg, logger.Logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		defer logger.Sync()
		return srv.Start(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dmxd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("dmxd", Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON structured logs")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
