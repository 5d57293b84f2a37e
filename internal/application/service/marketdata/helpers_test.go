package marketdata

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	"ohlcv-collector/internal/infrastructure/marketdata/memory"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testInstrument = "BTC-USD"

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRepo wraps the in-memory repository with failure injection.
type fakeRepo struct {
	*memory.Repository

	mu            sync.Mutex
	getErr        error
	onceBeforeGet func()
	upsertErr     error
	upserts       int
	beforeUpsert  func()
	panicUpsert   bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{Repository: memory.NewRepository()}
}

func (f *fakeRepo) GetCandle(ctx context.Context, key domain.CandleKey) (*domain.Candle, error) {
	f.mu.Lock()
	err, hook := f.getErr, f.onceBeforeGet
	f.onceBeforeGet = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return f.Repository.GetCandle(ctx, key)
}

func (f *fakeRepo) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	f.mu.Lock()
	f.upserts++
	hook, err, boom := f.beforeUpsert, f.upsertErr, f.panicUpsert
	f.mu.Unlock()

	if boom {
		panic("storage exploded")
	}
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	return f.Repository.UpsertCandles(ctx, candles)
}

func (f *fakeRepo) setUpsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertErr = err
}

func (f *fakeRepo) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// applyTick applies tk to keys the way Append does without backfill.
func applyTick(t *testing.T, s *CandleStore, keys []domain.CandleKey, tk domain.Tick, seeds map[domain.CandleKey]domain.OHLCV) {
	t.Helper()
	_, gen := s.Missing(keys)
	retry, _ := s.Apply(keys, tk, seeds, gen)
	require.Empty(t, retry)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCatalog(t *testing.T, timeframes ...domain.Timeframe) *domain.SeriesCatalog {
	t.Helper()
	catalog, err := domain.NewSeriesCatalog([]string{testInstrument}, timeframes)
	require.NoError(t, err)
	return catalog
}

func tick(price, volume float64, ts time.Time) domain.Tick {
	return domain.Tick{Instrument: testInstrument, Price: price, Volume: volume, Timestamp: ts}
}

func key(tf domain.Timeframe, start time.Time) domain.CandleKey {
	return domain.CandleKey{
		Series:      domain.ChartSeries{Instrument: testInstrument, Timeframe: tf},
		PeriodStart: start,
	}
}
