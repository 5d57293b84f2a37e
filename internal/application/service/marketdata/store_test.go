package marketdata

import (
	"testing"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleStore_ApplyCreatesAndUpdates(t *testing.T) {
	s := NewCandleStore()
	k := key(domain.Timeframe1m, testBase)

	missing, _ := s.Missing([]domain.CandleKey{k})
	assert.Equal(t, []domain.CandleKey{k}, missing)

	applyTick(t, s, []domain.CandleKey{k}, tick(100, 1, testBase.Add(10*time.Second)), nil)
	applyTick(t, s, []domain.CandleKey{k}, tick(101, 2, testBase.Add(20*time.Second)), nil)

	missing, _ = s.Missing([]domain.CandleKey{k})
	assert.Empty(t, missing)
	got, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Open)
	assert.Equal(t, 101.0, got.Close)
	assert.Equal(t, 3.0, got.Volume)
	assert.Equal(t, 1, s.Len())
}

func TestCandleStore_ApplyUsesSeedOnlyForNewBuckets(t *testing.T) {
	s := NewCandleStore()
	k := key(domain.Timeframe1m, testBase)
	seed := domain.OHLCV{
		Open: 90, High: 120, Low: 80, Close: 95, Volume: 10,
		OpenTimestamp:  testBase.Add(time.Second),
		CloseTimestamp: testBase.Add(30 * time.Second),
	}

	applyTick(t, s, []domain.CandleKey{k}, tick(100, 1, testBase.Add(40*time.Second)), map[domain.CandleKey]domain.OHLCV{k: seed})
	got, _ := s.Get(k)
	assert.Equal(t, 90.0, got.Open)
	assert.Equal(t, 120.0, got.High)
	assert.Equal(t, 100.0, got.Close)
	assert.Equal(t, 11.0, got.Volume)

	// A late seed for an existing bucket is ignored.
	applyTick(t, s, []domain.CandleKey{k}, tick(100, 1, testBase.Add(41*time.Second)), map[domain.CandleKey]domain.OHLCV{k: {Volume: 1000}})
	got, _ = s.Get(k)
	assert.Equal(t, 12.0, got.Volume)
}

func TestCandleStore_RetainKeepsMostRecent(t *testing.T) {
	s := NewCandleStore()
	for i := 0; i < 8; i++ {
		start := testBase.Add(time.Duration(i) * time.Minute)
		applyTick(t, s, []domain.CandleKey{key(domain.Timeframe1m, start)}, tick(100, 1, start), nil)
	}

	removed := s.Retain(s.Snapshot(), 5)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 5, s.Len())

	candles := s.Candles(domain.ChartSeries{Instrument: testInstrument, Timeframe: domain.Timeframe1m})
	for i := 3; i < 8; i++ {
		assert.Contains(t, candles, testBase.Add(time.Duration(i)*time.Minute))
	}
}

func TestCandleStore_RetainSkipsUnconfirmedBuckets(t *testing.T) {
	s := NewCandleStore()
	for i := 0; i < 7; i++ {
		start := testBase.Add(time.Duration(i) * time.Minute)
		applyTick(t, s, []domain.CandleKey{key(domain.Timeframe1m, start)}, tick(100, 1, start), nil)
	}
	snapshot := s.Snapshot()

	// Touched after the snapshot.
	applyTick(t, s, []domain.CandleKey{key(domain.Timeframe1m, testBase)}, tick(100, 1, testBase.Add(time.Second)), nil)

	removed := s.Retain(snapshot, 5)
	assert.Equal(t, 1, removed)
	_, ok := s.Get(key(domain.Timeframe1m, testBase))
	assert.True(t, ok)
	_, ok = s.Get(key(domain.Timeframe1m, testBase.Add(time.Minute)))
	assert.False(t, ok)

	// Nothing persisted, nothing dropped.
	assert.Zero(t, s.Retain(nil, 5))
}

func TestCandleStore_SnapshotIsACopy(t *testing.T) {
	s := NewCandleStore()
	k := key(domain.Timeframe1m, testBase)
	applyTick(t, s, []domain.CandleKey{k}, tick(100, 1, testBase), nil)

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 1)
	applyTick(t, s, []domain.CandleKey{k}, tick(200, 1, testBase.Add(time.Second)), nil)

	assert.Equal(t, 100.0, snapshot[0].Candle.High)
	got, _ := s.Get(k)
	assert.Equal(t, 200.0, got.High)
	assert.Greater(t, func() uint64 { return s.Snapshot()[0].Version }(), snapshot[0].Version)
}

func TestCandleStore_ApplyRefusesBucketsPrunedSinceMissing(t *testing.T) {
	s := NewCandleStore()
	for i := 0; i < 7; i++ {
		start := testBase.Add(time.Duration(i) * time.Minute)
		applyTick(t, s, []domain.CandleKey{key(domain.Timeframe1m, start)}, tick(100, 1, start), nil)
	}
	k := key(domain.Timeframe1m, testBase)

	missing, gen := s.Missing([]domain.CandleKey{k})
	require.Empty(t, missing)

	require.Equal(t, 2, s.Retain(s.Snapshot(), 5))

	retry, next := s.Apply([]domain.CandleKey{k}, tick(50, 2, testBase.Add(30*time.Second)), nil, gen)
	assert.Equal(t, []domain.CandleKey{k}, retry)
	assert.NotEqual(t, gen, next)
	_, ok := s.Get(k)
	assert.False(t, ok, "nothing applied until the pruned bucket is read again")

	seed := domain.NewOHLCV(tick(100, 1, testBase))
	retry, _ = s.Apply([]domain.CandleKey{k}, tick(50, 2, testBase.Add(30*time.Second)), map[domain.CandleKey]domain.OHLCV{k: seed}, next)
	assert.Empty(t, retry)
	got, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Open)
	assert.Equal(t, 3.0, got.Volume)
}

func TestCandleStore_ApplyIgnoresRetentionOfUnrelatedBuckets(t *testing.T) {
	s := NewCandleStore()
	for i := 0; i < 7; i++ {
		start := testBase.Add(time.Duration(i) * time.Minute)
		applyTick(t, s, []domain.CandleKey{key(domain.Timeframe1m, start)}, tick(100, 1, start), nil)
	}
	k := key(domain.Timeframe1m, testBase.Add(6*time.Minute))

	_, gen := s.Missing([]domain.CandleKey{k})
	require.Equal(t, 2, s.Retain(s.Snapshot(), 5))

	retry, _ := s.Apply([]domain.CandleKey{k}, tick(101, 1, testBase.Add(6*time.Minute+time.Second)), nil, gen)
	assert.Empty(t, retry)
	got, _ := s.Get(k)
	assert.Equal(t, 2.0, got.Volume)
}
