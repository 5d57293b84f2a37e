package marketdata

import (
	"context"
	"errors"
	"fmt"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/observability"

	"github.com/sirupsen/logrus"
)

// Aggregator applies ticks to every configured timeframe of a CandleStore.
type Aggregator struct {
	catalog *domain.SeriesCatalog
	store   *CandleStore
	repo    interfaces.CandleRepository
	metrics *observability.Metrics
	logger  *logrus.Entry
}

// NewAggregator wires an aggregator. repo is used for backfill only and may be nil.
func NewAggregator(catalog *domain.SeriesCatalog, store *CandleStore, repo interfaces.CandleRepository, metrics *observability.Metrics, logger *logrus.Logger) *Aggregator {
	if metrics == nil {
		metrics = observability.NewMetrics("")
	}
	return &Aggregator{
		catalog: catalog,
		store:   store,
		repo:    repo,
		metrics: metrics,
		logger:  logger.WithField("component", "aggregator"),
	}
}

// Append folds one tick into every timeframe. The first tick of a bucket tries
// to seed it from durable storage; that read happens outside the store lock and
// any failure falls back to seeding from the tick. A bucket pruned by a flush
// between the read and the apply is read again.
func (a *Aggregator) Append(ctx context.Context, tick domain.Tick) error {
	if err := tick.Validate(); err != nil {
		a.metrics.TicksRejected.WithLabelValues("invalid").Inc()
		return err
	}
	tick = tick.Normalize()
	keys, err := a.keysFor(tick)
	if err != nil {
		a.metrics.TicksRejected.WithLabelValues("unresolvable").Inc()
		return err
	}

	seeds := make(map[domain.CandleKey]domain.OHLCV)
	missing, gen := a.store.Missing(keys)
	for {
		a.backfill(ctx, missing, seeds)
		if missing, gen = a.store.Apply(keys, tick, seeds, gen); len(missing) == 0 {
			break
		}
		a.metrics.BackfillRetries.Inc()
	}

	a.metrics.TicksAppended.WithLabelValues(tick.Instrument).Inc()
	a.metrics.BucketsInMemory.Set(float64(a.store.Len()))
	return nil
}

// Handler adapts Append to a TickSource callback.
func (a *Aggregator) Handler(ctx context.Context) interfaces.TickHandler {
	return func(tick domain.Tick) {
		if err := a.Append(ctx, tick); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"instrument": tick.Instrument,
				"tick_id":    tick.ID,
			}).Warn("skip tick")
		}
	}
}

func (a *Aggregator) keysFor(tick domain.Tick) ([]domain.CandleKey, error) {
	timeframes := a.catalog.Timeframes()
	keys := make([]domain.CandleKey, 0, len(timeframes))
	for _, tf := range timeframes {
		series, err := a.catalog.Resolve(tick.Instrument, tf)
		if err != nil {
			return nil, err
		}
		start, err := tf.PeriodStart(tick.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("period for %s: %w", series, err)
		}
		keys = append(keys, domain.CandleKey{Series: series, PeriodStart: start})
	}
	return keys, nil
}

func (a *Aggregator) backfill(ctx context.Context, keys []domain.CandleKey, seeds map[domain.CandleKey]domain.OHLCV) {
	for _, key := range keys {
		delete(seeds, key)
	}
	if a.repo == nil {
		return
	}
	for _, key := range keys {
		candle, err := a.repo.GetCandle(ctx, key)
		switch {
		case err == nil:
			seeds[key] = candle.OHLCV
			a.metrics.Backfills.WithLabelValues(observability.BackfillHit).Inc()
		case errors.Is(err, domain.ErrCandleNotFound):
			a.metrics.Backfills.WithLabelValues(observability.BackfillMiss).Inc()
		default:
			a.metrics.Backfills.WithLabelValues(observability.BackfillError).Inc()
			a.logger.WithError(err).WithFields(logrus.Fields{
				"series":       key.Series.Key(),
				"period_start": key.PeriodStart,
			}).Warn("backfill unavailable, seeding from tick")
		}
	}
}
