package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
)

var (
	ErrInvalidLimit      = errors.New("limit must be positive")
	ErrMissingInstrument = errors.New("instrument is required")
)

// Service answers candle queries from durable storage, overlaying the live
// in-memory buckets when a store is attached.
type Service struct {
	repo    interfaces.CandleRepository
	live    *CandleStore
	catalog *domain.SeriesCatalog
}

// NewService builds a query service. live and catalog may be nil for a
// read-only deployment.
func NewService(repo interfaces.CandleRepository, live *CandleStore, catalog *domain.SeriesCatalog) *Service {
	return &Service{repo: repo, live: live, catalog: catalog}
}

func (s *Service) GetLastCandles(ctx context.Context, instrument, timeframe string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	series, err := s.resolve(instrument, timeframe)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.GetLastCandles(ctx, series.Key(), limit)
	if err != nil {
		return nil, err
	}
	if s.live == nil {
		return stored, nil
	}

	byStart := make(map[int64]domain.Candle, len(stored))
	for _, c := range stored {
		byStart[c.PeriodStart.Unix()] = c
	}
	for start, ohlcv := range s.live.Candles(series) {
		c, ok := byStart[start.Unix()]
		if !ok {
			c = domain.NewCandle(domain.CandleKey{Series: series, PeriodStart: start})
		}
		c.OHLCV = ohlcv
		byStart[start.Unix()] = c
	}

	out := make([]domain.Candle, 0, len(byStart))
	for _, c := range byStart {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) resolve(instrument, timeframe string) (domain.ChartSeries, error) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return domain.ChartSeries{}, ErrMissingInstrument
	}
	if s.catalog != nil {
		return s.catalog.ResolveName(instrument, timeframe)
	}
	tf, err := domain.ParseTimeframe(timeframe)
	if err != nil {
		return domain.ChartSeries{}, err
	}
	return domain.ChartSeries{Instrument: instrument, Timeframe: tf}, nil
}

func (s *Service) Close() {
	s.repo.Close()
}
