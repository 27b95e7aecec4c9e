package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics tracks the query endpoints.
type APIMetrics struct {
	Latency *prometheus.HistogramVec
	Errors  *prometheus.CounterVec
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	f := promauto.With(reg)
	return &APIMetrics{
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "finpulse",
				Subsystem: "api",
				Name:      "latency_seconds",
				Help:      "Latency of query endpoints",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "finpulse",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Errors by query endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// Observe records one request. Safe on a nil receiver.
func (m *APIMetrics) Observe(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.Errors.WithLabelValues(endpoint).Inc()
	}
}
