// Command ironbpfd runs the IRON backpressure-forwarder data-plane core
// as a standalone daemon.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raytheonbbn/iron-bpf/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ironbpfd",
		Short: "IRON backpressure-forwarder daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("ironbpfd exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}
	return 0
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(config.ParseLogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
