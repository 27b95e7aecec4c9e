package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"FinPulse/internal/di"
	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"

	"github.com/spf13/cobra"
)

var (
	cleanupHours float64
	cleanupInfo  bool
	cleanupForce bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete klines and anomaly results older than a cutoff",
	Long: `Run one retention sweep against the configured store.

Examples:
  finpulse cleanup               # delete rows older than 24h
  finpulse cleanup --hours 12    # delete rows older than 12h
  finpulse cleanup --info        # print store statistics only`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Float64Var(&cleanupHours, "hours", 24, "Delete rows older than this many hours")
	cleanupCmd.Flags().BoolVar(&cleanupInfo, "info", false, "Only print store statistics")
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Do not ask for confirmation")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, l, err := loadConfig()
	if err != nil {
		return err
	}
	// maintenance commands never sweep implicitly
	cfg.Storage.Retention.AutoCleanup = false

	out := cmd.OutOrStdout()
	maxAge := time.Duration(cleanupHours * float64(time.Hour))
	if !cleanupInfo && !cleanupForce {
		fmt.Fprintf(out, "About to delete all rows older than %s\n", maxAge)
		if !confirm(cmd.InOrStdin(), out, "Proceed? (y/N): ") {
			fmt.Fprintln(out, "Cleanup cancelled")
			return nil
		}
	}

	store, cleanup, err := di.InitializeStore(cfg, l)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cleanupInfo {
		return printStats(ctx, out, store, cfg.Storage.Retention.MaxAge)
	}

	fmt.Fprintln(out, "Before:")
	if err := printStats(ctx, out, store, maxAge); err != nil {
		return err
	}
	rep, err := store.RetentionSweep(ctx, models.RetentionPolicy{
		MaxAge:            maxAge,
		MaxRowsPerSymbol:  cfg.Storage.Retention.MaxKlinesPerSymbol,
		MaxStoreSizeBytes: cfg.MaxStoreSizeBytes(),
	})
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	fmt.Fprintf(out, "\nDeleted %d klines (%d over the per-symbol cap) and %d anomaly results",
		rep.Candles+rep.CandlesExcess, rep.CandlesExcess, rep.Anomalies)
	if rep.Vacuumed {
		fmt.Fprint(out, ", space reclaimed")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "\nAfter:")
	return printStats(ctx, out, store, maxAge)
}

// confirm reads one line from in and accepts only "y" or "yes".
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func printStats(ctx context.Context, out io.Writer, store drepo.Store, maxAge time.Duration) error {
	st, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	fmt.Fprintf(out, "  size:            %s\n", formatSize(st.SizeBytes))
	fmt.Fprintf(out, "  retention:       %s\n", formatRetention(maxAge))
	fmt.Fprintf(out, "  symbols:         %d\n", st.SymbolCount)
	fmt.Fprintf(out, "  klines:          %d\n", st.CandleCount)
	fmt.Fprintf(out, "  anomaly results: %d\n", st.AnomalyCount)
	fmt.Fprintf(out, "  anomalies (24h): %d\n", st.Anomalies24h)
	fmt.Fprintf(out, "  oldest kline:    %s\n", formatTime(st.OldestCandle))
	fmt.Fprintf(out, "  oldest anomaly:  %s\n", formatTime(st.OldestAnomaly))
	return nil
}

func formatSize(b int64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%d B", b)
	case b < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "no data"
	}
	return t.UTC().Format(time.DateTime)
}

func formatRetention(d time.Duration) string {
	if d < 0 {
		return "unlimited"
	}
	return d.String()
}
