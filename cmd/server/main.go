// Price Pilot - retail multi-agent orchestration server
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MedGAN-AI/price-pilot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "price-pilot",
	Short: "Retail assistant orchestrator",
	Long: `Price Pilot classifies shopper messages, routes them to specialized
workers (inventory, recommendation, order, logistics, forecast, chat) and
composes a single reply per turn.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads .env and the configuration, then installs the JSON logger at
// the configured level as the default.
func setup() (*config.Config, *slog.Logger, error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	return cfg, logger, nil
}
