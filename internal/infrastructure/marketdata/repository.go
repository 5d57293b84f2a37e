package marketdata

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
}

var _ interfaces.CandleRepository = (*Repository)(nil)

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// EnsureSchema creates the candles table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply candles schema: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const selectCandleColumns = `
	SELECT series, period_start, instrument, timeframe, interval_seconds,
	       open, high, low, close, volume,
	       open_timestamp, close_timestamp, metadata, updated_at
	FROM candles`

func (r *Repository) GetCandle(ctx context.Context, key domain.CandleKey) (*domain.Candle, error) {
	const query = selectCandleColumns + `
	WHERE series = $1 AND period_start = $2`

	candle, err := scanCandle(r.pool.QueryRow(ctx, query, key.Series.Key(), key.PeriodStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCandleNotFound
		}
		return nil, err
	}
	return &candle, nil
}

const upsertCandleQuery = `
	INSERT INTO candles (
		series, period_start, instrument, timeframe, interval_seconds,
		open, high, low, close, volume,
		open_timestamp, close_timestamp, metadata, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	ON CONFLICT (series, period_start) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		open_timestamp = EXCLUDED.open_timestamp,
		close_timestamp = EXCLUDED.close_timestamp,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// UpsertCandles writes the batch in one transaction.
func (r *Repository) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range candles {
		c := &candles[i]
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(upsertCandleQuery,
			c.Series,
			c.PeriodStart,
			c.Instrument,
			c.Timeframe,
			c.IntervalSeconds,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.OpenTimestamp,
			c.CloseTimestamp,
			meta,
		)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *Repository) GetLastCandles(ctx context.Context, seriesKey string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = selectCandleColumns + `
	WHERE series = $1
	ORDER BY period_start DESC
	LIMIT $2`
	rows, err := r.pool.Query(ctx, query, seriesKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, rows.Err()
}

func scanCandle(row pgx.Row) (domain.Candle, error) {
	var metadataBytes []byte
	candle := domain.Candle{}
	err := row.Scan(
		&candle.Series,
		&candle.PeriodStart,
		&candle.Instrument,
		&candle.Timeframe,
		&candle.IntervalSeconds,
		&candle.Open,
		&candle.High,
		&candle.Low,
		&candle.Close,
		&candle.Volume,
		&candle.OpenTimestamp,
		&candle.CloseTimestamp,
		&metadataBytes,
		&candle.UpdatedAt,
	)
	if err != nil {
		return domain.Candle{}, err
	}
	meta, err := unmarshalMetadata(metadataBytes)
	if err != nil {
		return domain.Candle{}, err
	}
	candle.Metadata = meta
	candle.PeriodStart = candle.PeriodStart.UTC()
	return candle, nil
}

// Helpers

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}
