package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_HOST", "HTTP_PORT", "SUPERVISE_INTERVAL_SECONDS", "RABBITMQ_TICKS_EXCHANGE", "STORE_BACKEND", "TICK_SOURCE", "INSTRUMENTS", "INSTRUMENTS_FILE", "TIMEFRAMES", "FLUSH_INTERVAL_SECONDS", "RETENTION_DEPTH", "FLUSH_CRON"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, TickSourceInvest, cfg.Source.Kind)
	assert.Equal(t, 10*time.Second, cfg.Aggregation.FlushInterval)
	assert.Equal(t, 5, cfg.Aggregation.RetentionDepth)
	assert.Equal(t, 5*time.Second, cfg.Aggregation.SuperviseInterval)
	assert.Equal(t, "marketdata.ticks", cfg.RabbitMQ.TicksExchange)
	assert.Empty(t, cfg.Aggregation.Instruments)
	assert.Empty(t, cfg.Aggregation.Timeframes)
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "instruments.yaml")
	require.NoError(t, os.WriteFile(file, []byte("instruments:\n  - BBG004730N88\n  - ' '\n  - BBG004731032\n"), 0o600))

	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORE_BACKEND", "ClickHouse")
	t.Setenv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/default")
	t.Setenv("TICK_SOURCE", "rabbitmq")
	t.Setenv("INSTRUMENTS", "BTC-USD, ETH-USD,")
	t.Setenv("INSTRUMENTS_FILE", file)
	t.Setenv("TIMEFRAMES", "10s,1m,1w")
	t.Setenv("FLUSH_INTERVAL_SECONDS", "3")
	t.Setenv("FLUSH_CRON", "*/5 * * * * *")
	t.Setenv("RETENTION_DEPTH", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, StoreBackendClickHouse, cfg.Store.Backend)
	assert.Equal(t, TickSourceRabbitMQ, cfg.Source.Kind)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "BBG004730N88", "BBG004731032"}, cfg.Aggregation.Instruments)
	assert.Equal(t, []string{"10s", "1m", "1w"}, cfg.Aggregation.Timeframes)
	assert.Equal(t, 3*time.Second, cfg.Aggregation.FlushInterval)
	assert.Equal(t, "*/5 * * * * *", cfg.Aggregation.FlushCron)
	assert.Equal(t, 7, cfg.Aggregation.RetentionDepth)
	assert.NoError(t, cfg.ValidateStore())
	assert.NoError(t, cfg.ValidateSource())
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "http")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("HTTP_PORT", "")
	t.Setenv("FLUSH_INTERVAL_SECONDS", "0")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("FLUSH_INTERVAL_SECONDS", "")
	t.Setenv("INSTRUMENTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: StoreBackendPostgres}, Source: SourceConfig{Kind: TickSourceInvest}}
	assert.Error(t, cfg.ValidateStore())
	assert.Error(t, cfg.ValidateSource())

	cfg.Store.PostgresDSN = "postgres://localhost/ohlcv"
	cfg.Invest.Token = "t.token"
	assert.NoError(t, cfg.ValidateStore())
	assert.NoError(t, cfg.ValidateSource())

	cfg.Store.Backend = StoreBackendMemory
	assert.NoError(t, cfg.ValidateStore())

	cfg.Store.Backend = "sqlite"
	assert.Error(t, cfg.ValidateStore())
	cfg.Source.Kind = "kafka"
	assert.Error(t, cfg.ValidateSource())
}
