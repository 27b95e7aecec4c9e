package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"FinPulse/internal/di"
	"FinPulse/pkg/config"
	applogger "FinPulse/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

// rootCmd runs serve when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:   "finpulse",
	Short: "Binance futures 15m kline collector and anomaly scorer",
	Long: `finpulse keeps a rolling store of 15m klines for the most liquid USDT
perpetual contracts, scores the latest bucket of every symbol for price,
volume and volatility anomalies, and serves the results over HTTP.

Examples:
  finpulse                       # same as finpulse serve
  finpulse cleanup --hours 12    # delete rows older than 12h
  finpulse stats --format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
}

// loadConfig reads the YAML file, applies env overrides and builds the logger.
func loadConfig() (*config.Config, *applogger.Logger, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := di.ProvideLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
