package main

import (
	"context"
	"encoding/json"
	"fmt"

	"FinPulse/internal/di"

	"github.com/spf13/cobra"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsFormat, "format", "table", "Output format (table|json)")
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsFormat != "table" && statsFormat != "json" {
		return fmt.Errorf("unsupported format %q", statsFormat)
	}
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Storage.Retention.AutoCleanup = false

	store, cleanup, err := di.InitializeStore(cfg, l)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	if statsFormat == "table" {
		return printStats(ctx, out, store, cfg.Storage.Retention.MaxAge)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
