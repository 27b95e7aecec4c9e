package main

import (
	"fmt"

	"FinPulse/internal/di"
	applogger "FinPulse/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, scoring and the query API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	l.Info("starting",
		applogger.String("env", cfg.Environment),
		applogger.String("storage", cfg.Storage.Backend),
		applogger.Bool("kafka", cfg.Kafka.Enabled),
		applogger.Bool("clickhouse", cfg.ClickHouse.Enabled),
		applogger.Bool("redis", cfg.Redis.Enabled),
	)

	app, cleanup, err := di.InitializeApp(cfg, l)
	if err != nil {
		return fmt.Errorf("app initialization: %w", err)
	}
	runErr := app.Run()
	cleanup()
	return runErr
}
