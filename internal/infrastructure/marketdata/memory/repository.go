// Package memory is an in-process CandleRepository for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
)

type recordKey struct {
	series string
	start  int64
}

// Repository keeps candles in a map. Reads and writes copy values.
type Repository struct {
	mu      sync.RWMutex
	candles map[recordKey]domain.Candle
}

var _ interfaces.CandleRepository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{candles: make(map[recordKey]domain.Candle)}
}

func (r *Repository) GetCandle(_ context.Context, key domain.CandleKey) (*domain.Candle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.candles[recordKey{series: key.Series.Key(), start: key.PeriodStart.Unix()}]
	if !ok {
		return nil, domain.ErrCandleNotFound
	}
	c.Metadata = copyMetadata(c.Metadata)
	return &c, nil
}

func (r *Repository) UpsertCandles(_ context.Context, candles []domain.Candle) error {
	for _, c := range candles {
		if c.Series == "" {
			return errors.New("candle series is empty")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range candles {
		c.Metadata = copyMetadata(c.Metadata)
		r.candles[recordKey{series: c.Series, start: c.PeriodStart.Unix()}] = c
	}
	return nil
}

func (r *Repository) GetLastCandles(_ context.Context, seriesKey string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	r.mu.RLock()
	var out []domain.Candle
	for k, c := range r.candles {
		if k.series == seriesKey {
			c.Metadata = copyMetadata(c.Metadata)
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored candles.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candles)
}

// Put stores a single candle as written by another system.
func (r *Repository) Put(c domain.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Metadata = copyMetadata(c.Metadata)
	r.candles[recordKey{series: c.Series, start: c.PeriodStart.Unix()}] = c
}

func (r *Repository) Close() {}

func copyMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
