package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestPublishBatchEncodesValues(t *testing.T) {
	w := &captureWriter{}
	reg := prometheus.NewPedanticRegistry()
	p := NewProducerWithWriter(w, WithRegisterer(reg), WithCompression("lz4"))

	err := p.PublishBatch(context.Background(), "anomalies", []Message{
		{Key: []byte("BTCUSDT"), Value: map[string]int{"n": 1}},
		{Key: []byte("ETHUSDT"), Value: "raw"},
		{Value: []byte{0x01}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "anomalies", w.msgs[0].Topic)
	assert.Equal(t, "BTCUSDT", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, []byte{0x01}, w.msgs[2].Value)

	assert.Equal(t, 3.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("anomalies", "lz4", "ok")))
}

func TestPublishBatchWrapsWriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, WithRegisterer(prometheus.NewRegistry()))

	err := p.Publish(context.Background(), "anomalies", []byte("k"), "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.errs.WithLabelValues("anomalies")))
}

func TestPublishMessageIsUnkeyed(t *testing.T) {
	w := &captureWriter{}
	p := NewProducerWithWriter(w)

	require.NoError(t, p.PublishMessage(context.Background(), "logs", []string{"a"}))
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)
	assert.JSONEq(t, `["a"]`, string(w.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishBatchEmptyIsNoop(t *testing.T) {
	w := &captureWriter{}
	p := NewProducerWithWriter(w)
	require.NoError(t, p.PublishBatch(context.Background(), "t", nil))
	assert.Empty(t, w.msgs)
}

func TestPublishBatchMarshalError(t *testing.T) {
	w := &captureWriter{}
	p := NewProducerWithWriter(w)
	err := p.PublishBatch(context.Background(), "t", []Message{{Value: make(chan int)}})
	assert.Error(t, err)
	assert.Empty(t, w.msgs)
}
