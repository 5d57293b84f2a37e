package interfaces

import (
	"context"

	marketdata "ohlcv-collector/internal/domain/entity/marketdata"
)

// CandleRepository is the durable candle store.
type CandleRepository interface {
	// GetCandle returns marketdata.ErrCandleNotFound when no record exists.
	GetCandle(ctx context.Context, key marketdata.CandleKey) (*marketdata.Candle, error)
	// UpsertCandles writes the whole batch or nothing.
	UpsertCandles(ctx context.Context, candles []marketdata.Candle) error
	// GetLastCandles returns up to limit records of a series, newest first.
	GetLastCandles(ctx context.Context, seriesKey string, limit int) ([]marketdata.Candle, error)

	Close()
}

// Channel names a tick stream offered by a TickSource.
type Channel string

const ChannelTrades Channel = "trades"

// TickHandler receives ticks from a TickSource.
type TickHandler func(tick marketdata.Tick)

// TickSource delivers ticks per instrument to subscribed handlers.
type TickSource interface {
	Subscribe(channel Channel, instrument string, handler TickHandler) error
	Start(ctx context.Context) error
	Stop()
	IsAlive() bool
}
