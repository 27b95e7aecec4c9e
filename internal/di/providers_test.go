package di

import (
	"context"
	"testing"
	"time"

	internalrepo "FinPulse/internal/repository"
	"FinPulse/pkg/config"
	applogger "FinPulse/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("storage:\n  backend: memory\n  retention:\n    max_age: 6h\n    max_klines_per_symbol: 500\n"))
	require.NoError(t, err)
	return cfg
}

func TestRetentionFromConfig(t *testing.T) {
	rc := RetentionFromConfig(memoryConfig(t))
	assert.Equal(t, 6*time.Hour, rc.Policy.MaxAge)
	assert.Equal(t, 500, rc.Policy.MaxRowsPerSymbol)
	assert.Equal(t, int64(100*1024*1024), rc.Policy.MaxStoreSizeBytes)
	assert.True(t, rc.AutoCleanup)
	assert.Equal(t, int64(100), rc.VacuumThreshold)
}

func TestOptionalSinksAreNilWhenDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	l := applogger.NewNop()

	producer, cleanup, err := ProvideKafkaProducer(cfg, ProvideRegistry(), l)
	require.NoError(t, err)
	assert.Nil(t, producer)
	cleanup()

	archive, cleanup, err := ProvideClickHouseArchive(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, archive)
	cleanup()

	sinks := ProvideSinks(cfg, producer, archive)
	assert.True(t, sinks.Empty())
	assert.Nil(t, ProvideResultSink(sinks))
	assert.Nil(t, ProvideCandleSink(sinks))
}

func TestSinksWrapArchive(t *testing.T) {
	cfg := memoryConfig(t)
	archive := internalrepo.NewClickHouseArchive(nil, "a", "b", nil)
	sinks := ProvideSinks(cfg, nil, archive)
	assert.NotNil(t, ProvideResultSink(sinks))
	assert.NotNil(t, ProvideCandleSink(sinks))
}

func TestInitializeStoreMemory(t *testing.T) {
	store, cleanup, err := InitializeStore(memoryConfig(t), applogger.NewNop())
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, store.Health(context.Background()))
	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.CandleCount)
}

func TestInitializeAppOffline(t *testing.T) {
	app, cleanup, err := InitializeApp(memoryConfig(t), applogger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app)
	cleanup()
}

func TestProvideStoreRequiresDSN(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Backend = "postgres"
	_, _, err := ProvideStore(cfg, applogger.NewNop(), ProvideMetrics(ProvideRegistry()))
	assert.Error(t, err)
}
