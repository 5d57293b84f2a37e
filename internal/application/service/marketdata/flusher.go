package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
	"ohlcv-collector/internal/observability"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFlushInterval  = 10 * time.Second
	DefaultRetentionDepth = 5
)

var ErrFlusherRunning = errors.New("flusher is already running")

// FlushConfig controls the flush cycle.
type FlushConfig struct {
	Interval time.Duration
	// Schedule overrides Interval when set.
	Schedule       cron.Schedule
	RetentionDepth int
}

// Flusher periodically persists the candle store and trims it to the
// retention window.
type Flusher struct {
	store    *CandleStore
	repo     interfaces.CandleRepository
	schedule cron.Schedule
	depth    int
	metrics  *observability.Metrics
	logger   *logrus.Entry

	flushMu sync.Mutex

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce *sync.Once
	alive    atomic.Bool
}

func NewFlusher(store *CandleStore, repo interfaces.CandleRepository, cfg FlushConfig, metrics *observability.Metrics, logger *logrus.Logger) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.RetentionDepth <= 0 {
		cfg.RetentionDepth = DefaultRetentionDepth
	}
	schedule := cfg.Schedule
	if schedule == nil {
		schedule = cron.Every(cfg.Interval)
	}
	if metrics == nil {
		metrics = observability.NewMetrics("")
	}
	return &Flusher{
		store:    store,
		repo:     repo,
		schedule: schedule,
		depth:    cfg.RetentionDepth,
		metrics:  metrics,
		logger:   logger.WithField("component", "flusher"),
	}
}

// Start launches the flush loop. The first cycle runs immediately.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.alive.Load() {
		return ErrFlusherRunning
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	f.stopOnce = &sync.Once{}
	f.alive.Store(true)

	go f.run(ctx, f.stop, f.done)
	f.logger.Info("flusher started")
	return nil
}

// Stop asks the loop to exit before its next cycle. It does not interrupt a
// cycle in progress.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop == nil {
		return
	}
	f.stopOnce.Do(func() { close(f.stop) })
}

// Done is closed once the loop has exited.
func (f *Flusher) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return f.done
}

// IsAlive reports whether the loop is running.
func (f *Flusher) IsAlive() bool {
	return f.alive.Load()
}

func (f *Flusher) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer f.alive.Store(false)
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithField("panic", r).Error("flush loop crashed")
		}
	}()

	for {
		select {
		case <-stop:
			f.logger.Info("flusher stopped")
			return
		case <-ctx.Done():
			f.logger.Info("flusher context done")
			return
		default:
		}

		started := time.Now()
		if err := f.Flush(ctx); err != nil {
			f.logger.WithError(err).Error("flush failed, retrying next cycle")
		}

		next := f.schedule.Next(started)
		if now := time.Now(); !next.After(now) {
			next = f.schedule.Next(now)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-stop:
			timer.Stop()
			f.logger.Info("flusher stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info("flusher context done")
			return
		case <-timer.C:
		}
	}
}

// Flush runs one cycle: snapshot, read-before-write, batch upsert and, only
// after the upsert succeeded, retention.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	start := time.Now()
	entries := f.store.Snapshot()
	if len(entries) == 0 {
		return nil
	}
	log := f.logger.WithField("cycle", uuid.New())

	records := make([]domain.Candle, 0, len(entries))
	for _, e := range entries {
		record, err := f.recordFor(ctx, e)
		if err != nil {
			f.metrics.FlushFailures.Inc()
			return err
		}
		records = append(records, record)
	}

	if err := f.repo.UpsertCandles(ctx, records); err != nil {
		f.metrics.FlushFailures.Inc()
		return fmt.Errorf("upsert %d candles: %w", len(records), err)
	}

	pruned := f.store.Retain(entries, f.depth)

	took := time.Since(start)
	f.metrics.FlushDuration.Observe(took.Seconds())
	f.metrics.FlushedCandles.Add(float64(len(records)))
	f.metrics.PrunedBuckets.Add(float64(pruned))
	f.metrics.LastSuccessfulFlush.SetToCurrentTime()
	f.metrics.BucketsInMemory.Set(float64(f.store.Len()))

	log.WithFields(logrus.Fields{
		"candles": len(records),
		"pruned":  pruned,
		"took_ms": took.Milliseconds(),
	}).Debug("flushed candles")
	return nil
}

func (f *Flusher) recordFor(ctx context.Context, e StoreEntry) (domain.Candle, error) {
	existing, err := f.repo.GetCandle(ctx, e.Key)
	var record domain.Candle
	switch {
	case err == nil:
		record = *existing
	case errors.Is(err, domain.ErrCandleNotFound):
		record = domain.NewCandle(e.Key)
	default:
		return domain.Candle{}, fmt.Errorf("read %s@%s: %w", e.Key.Series, e.Key.PeriodStart.Format(time.RFC3339), err)
	}
	record.OHLCV = e.Candle
	return record, nil
}
