package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appmarketdata "ohlcv-collector/internal/application/service/marketdata"
	domain "ohlcv-collector/internal/domain/entity/marketdata"
	"ohlcv-collector/internal/infrastructure/marketdata/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, checks map[string]LivenessCheck) (*Handler, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	catalog, err := domain.NewSeriesCatalog([]string{"BTC-USD"}, []domain.Timeframe{domain.Timeframe1m})
	require.NoError(t, err)
	svc := appmarketdata.NewService(repo, nil, catalog)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	return NewHandler(svc, metrics, checks, nil, 0), repo
}

func seed(t *testing.T, repo *memory.Repository, start time.Time, closePrice float64) {
	t.Helper()
	series := domain.ChartSeries{Instrument: "BTC-USD", Timeframe: domain.Timeframe1m}
	c := domain.NewCandle(domain.CandleKey{Series: series, PeriodStart: start})
	c.OHLCV = domain.OHLCV{Open: closePrice, High: closePrice, Low: closePrice, Close: closePrice, Volume: 1}
	require.NoError(t, repo.UpsertCandles(context.Background(), []domain.Candle{c}))
}

func TestGetCandlesLast(t *testing.T) {
	h, repo := newTestHandler(t, nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, repo, base, 100)
	seed(t, repo, base.Add(time.Minute), 101)
	seed(t, repo, base.Add(2*time.Minute), 102)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/marketdata/candles/last?instrument=BTC-USD&timeframe=1m&limit=2", nil)
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []domain.Candle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 102.0, got[0].Close)
	assert.Equal(t, 101.0, got[1].Close)
	assert.Equal(t, "BTC-USD:1m", got[0].Series)
}

func TestGetCandlesLast_BadRequests(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	for _, query := range []string{
		"timeframe=1m",
		"instrument=BTC-USD",
		"instrument=BTC-USD&timeframe=7m",
		"instrument=ETH-USD&timeframe=1m",
		"instrument=BTC-USD&timeframe=1m&limit=0",
		"instrument=BTC-USD&timeframe=1m&limit=abc",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/marketdata/candles/last?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Contains(t, rec.Body.String(), "error", query)
	}
}

func TestHealthz(t *testing.T) {
	alive := true
	h, _ := newTestHandler(t, map[string]LivenessCheck{
		"flusher": func() bool { return true },
		"source":  func() bool { return alive },
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	alive = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Alive      bool            `json:"alive"`
		Components map[string]bool `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Alive)
	assert.True(t, body.Components["flusher"])
	assert.False(t, body.Components["source"])
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}
