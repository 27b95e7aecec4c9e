package metrics

import (
	"FinPulse/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestionStates are the values exported by the state gauge, one series each.
var IngestionStates = []string{
	"idle", "selecting_universe", "backfilling", "streaming",
	"disconnected", "reconnecting", "stopped",
}

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	candlesWritten *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	state          *prometheus.GaugeVec
	reconnects     prometheus.Counter
	universeSize   prometheus.Gauge
	scored         *prometheus.CounterVec
	swept          *prometheus.CounterVec
	vacuums        prometheus.Counter
}

// New creates a recorder registered on the default registry.
func New() *Recorder { return NewWithRegistry(prometheus.DefaultRegisterer) }

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		candlesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpulse_klines_written_total",
				Help: "Total number of klines written to the store",
			},
			[]string{"source", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finpulse_last_price",
				Help: "Last recorded close price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finpulse_ingestion_state",
				Help: "Current ingestion state (1 for the active state)",
			},
			[]string{"state"},
		),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "finpulse_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts",
		}),
		universeSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "finpulse_universe_size",
			Help: "Number of symbols in the active universe",
		}),
		scored: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpulse_scoring_results_total",
				Help: "Scoring outcomes by kind",
			},
			[]string{"outcome"},
		),
		swept: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finpulse_retention_deleted_rows_total",
				Help: "Rows deleted by retention sweeps",
			},
			[]string{"table"},
		),
		vacuums: f.NewCounter(prometheus.CounterOpts{
			Name: "finpulse_retention_vacuums_total",
			Help: "Space reclamation passes after large sweeps",
		}),
	}
}

// RecordCandleWritten records one stored kline.
func (r *Recorder) RecordCandleWritten(source, symbol string) {
	r.candlesWritten.WithLabelValues(source, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordIngestionState sets the gauge for state to 1 and all others to 0.
func (r *Recorder) RecordIngestionState(state string) {
	for _, s := range IngestionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(s).Set(v)
	}
}

func (r *Recorder) RecordReconnect() { r.reconnects.Inc() }

func (r *Recorder) RecordUniverseSize(n int) { r.universeSize.Set(float64(n)) }

func (r *Recorder) RecordScoringRun(scored, anomalies, skipped int) {
	r.scored.WithLabelValues("scored").Add(float64(scored))
	r.scored.WithLabelValues("anomaly").Add(float64(anomalies))
	r.scored.WithLabelValues("skipped").Add(float64(skipped))
}

func (r *Recorder) RecordSweep(rep models.SweepReport) {
	r.swept.WithLabelValues("klines").Add(float64(rep.Candles + rep.CandlesExcess))
	r.swept.WithLabelValues("anomalies").Add(float64(rep.Anomalies))
	if rep.Vacuumed {
		r.vacuums.Inc()
	}
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordCandleWritten(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordIngestionState(string) {}
func (Nop) RecordReconnect() {}
func (Nop) RecordUniverseSize(int) {}
func (Nop) RecordScoringRun(int, int, int) {}
func (Nop) RecordSweep(models.SweepReport) {}
