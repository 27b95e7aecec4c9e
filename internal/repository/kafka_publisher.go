package repository

import (
	"context"
	"errors"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	pkgkafka "FinPulse/pkg/kafka"
)

// BatchPublisher is the subset of the Kafka producer used for result events.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// AnomalyEvent is the payload published per scored symbol.
type AnomalyEvent struct {
	Symbol       string   `json:"symbol"`
	Timestamp    int64    `json:"timestamp"`
	Time         string   `json:"time"`
	IntervalType string   `json:"interval_type"`
	ClosePrice   float64  `json:"close_price"`
	ReturnPct    float64  `json:"return_pct"`
	PriceZ       float64  `json:"price_zscore"`
	Percentile   float64  `json:"price_percentile"`
	VolumeZ      float64  `json:"volume_zscore"`
	VolatilityZ  float64  `json:"volatility_zscore"`
	Score        float64  `json:"anomaly_score"`
	Reasons      []string `json:"reasons"`
	IsAnomaly    bool     `json:"is_anomaly"`
}

// KafkaResultPublisher emits scored results keyed by symbol.
type KafkaResultPublisher struct {
	producer      BatchPublisher
	topic         string
	anomaliesOnly bool
}

func NewKafkaResultPublisher(producer BatchPublisher, topic string, anomaliesOnly bool) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: producer, topic: topic, anomaliesOnly: anomaliesOnly}
}

// PublishResults implements ResultSink.
func (p *KafkaResultPublisher) PublishResults(ctx context.Context, results []models.AnomalyResult) error {
	msgs := make([]pkgkafka.Message, 0, len(results))
	for _, r := range results {
		if p.anomaliesOnly && !r.IsAnomaly {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(r.Symbol), Value: newAnomalyEvent(r)})
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func newAnomalyEvent(r models.AnomalyResult) AnomalyEvent {
	reasons := make([]string, len(r.Reasons))
	for i, x := range r.Reasons {
		reasons[i] = string(x)
	}
	return AnomalyEvent{
		Symbol:       r.Symbol,
		Timestamp:    r.Timestamp,
		Time:         time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
		IntervalType: r.IntervalType,
		ClosePrice:   r.ClosePrice,
		ReturnPct:    r.CurReturn * 100,
		PriceZ:       r.PriceZScore,
		Percentile:   r.PricePercentile,
		VolumeZ:      r.VolumeZScore,
		VolatilityZ:  r.VolatilityZScore,
		Score:        r.AnomalyScore,
		Reasons:      reasons,
		IsAnomaly:    r.IsAnomaly,
	}
}

// MultiSink fans results and candles out to every configured sink.
// All sinks are attempted; errors are joined.
type MultiSink struct {
	results []drepo.ResultSink
	candles []drepo.CandleSink
}

// NewMultiSink sorts sinks by the interfaces they implement. Nil entries are skipped.
func NewMultiSink(sinks ...any) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if rs, ok := s.(drepo.ResultSink); ok {
			m.results = append(m.results, rs)
		}
		if cs, ok := s.(drepo.CandleSink); ok {
			m.candles = append(m.candles, cs)
		}
	}
	return m
}

// Empty reports whether no sink was registered.
func (m *MultiSink) Empty() bool { return len(m.results) == 0 && len(m.candles) == 0 }

func (m *MultiSink) PublishResults(ctx context.Context, results []models.AnomalyResult) error {
	if len(results) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.results {
		if err := s.PublishResults(ctx, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) ArchiveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.candles {
		if err := s.ArchiveCandles(ctx, candles); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
