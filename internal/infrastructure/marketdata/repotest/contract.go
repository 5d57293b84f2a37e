// Package repotest holds the behaviour every CandleRepository must share.
package repotest

import (
	"context"
	"testing"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func candle(series domain.ChartSeries, minute int, closePrice float64) domain.Candle {
	start := base.Add(time.Duration(minute) * time.Minute)
	c := domain.NewCandle(domain.CandleKey{Series: series, PeriodStart: start})
	c.OHLCV = domain.OHLCV{
		Open:           closePrice - 1,
		High:           closePrice + 1,
		Low:            closePrice - 2,
		Close:          closePrice,
		Volume:         3.5,
		OpenTimestamp:  start.Add(time.Second),
		CloseTimestamp: start.Add(59 * time.Second),
	}
	return c
}

// Run exercises repo against the CandleRepository contract. The repository
// must start empty.
func Run(t *testing.T, repo interfaces.CandleRepository) {
	t.Helper()
	ctx := context.Background()
	btc := domain.ChartSeries{Instrument: "BTC-USD", Timeframe: domain.Timeframe1m}
	eth := domain.ChartSeries{Instrument: "ETH-USD", Timeframe: domain.Timeframe1m}

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.GetCandle(ctx, domain.CandleKey{Series: btc, PeriodStart: base})
		assert.ErrorIs(t, err, domain.ErrCandleNotFound)
	})

	t.Run("upsert and get", func(t *testing.T) {
		first := candle(btc, 0, 100)
		first.Metadata = map[string]any{"source": "test"}
		require.NoError(t, repo.UpsertCandles(ctx, []domain.Candle{first, candle(btc, 1, 101), candle(eth, 0, 10)}))

		got, err := repo.GetCandle(ctx, domain.CandleKey{Series: btc, PeriodStart: base})
		require.NoError(t, err)
		assert.Equal(t, "BTC-USD:1m", got.Series)
		assert.Equal(t, "BTC-USD", got.Instrument)
		assert.Equal(t, "1m", got.Timeframe)
		assert.Equal(t, int64(60), got.IntervalSeconds)
		assert.True(t, got.PeriodStart.Equal(base))
		assert.Equal(t, 100.0, got.Close)
		assert.Equal(t, 3.5, got.Volume)
		assert.True(t, got.OpenTimestamp.Equal(base.Add(time.Second)))
		assert.True(t, got.CloseTimestamp.Equal(base.Add(59*time.Second)))
		assert.Equal(t, "test", got.Metadata["source"])
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		updated := candle(btc, 0, 150)
		updated.Metadata = map[string]any{"source": "test"}
		require.NoError(t, repo.UpsertCandles(ctx, []domain.Candle{updated}))
		require.NoError(t, repo.UpsertCandles(ctx, []domain.Candle{updated}))

		got, err := repo.GetCandle(ctx, domain.CandleKey{Series: btc, PeriodStart: base})
		require.NoError(t, err)
		assert.Equal(t, 150.0, got.Close)
		assert.Equal(t, 151.0, got.High)
	})

	t.Run("last candles newest first", func(t *testing.T) {
		require.NoError(t, repo.UpsertCandles(ctx, []domain.Candle{candle(btc, 2, 102), candle(btc, 3, 103)}))

		got, err := repo.GetLastCandles(ctx, btc.Key(), 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 103.0, got[0].Close)
		assert.Equal(t, 102.0, got[1].Close)
		assert.Equal(t, 101.0, got[2].Close)

		got, err = repo.GetLastCandles(ctx, eth.Key(), 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "ETH-USD", got[0].Instrument)

		got, err = repo.GetLastCandles(ctx, "XRP-USD:1m", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("empty batch", func(t *testing.T) {
		assert.NoError(t, repo.UpsertCandles(ctx, nil))
	})
}
