package marketdata

import (
	"time"
)

// OHLCV is the aggregate of every tick applied to one bucket.
type OHLCV struct {
	Open           float64   `json:"open"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	Volume         float64   `json:"volume"`
	OpenTimestamp  time.Time `json:"open_timestamp"`
	CloseTimestamp time.Time `json:"close_timestamp"`
}

// NewOHLCV seeds a bucket from its first tick.
func NewOHLCV(tick Tick) OHLCV {
	return OHLCV{
		Open:           tick.Price,
		High:           tick.Price,
		Low:            tick.Price,
		Close:          tick.Price,
		Volume:         tick.Volume,
		OpenTimestamp:  tick.Timestamp,
		CloseTimestamp: tick.Timestamp,
	}
}

// Apply folds a tick into the bucket. A timestamp equal to the current
// open or close boundary leaves that boundary untouched.
func (o *OHLCV) Apply(tick Tick) {
	o.Volume += tick.Volume
	if tick.Price > o.High {
		o.High = tick.Price
	}
	if tick.Price < o.Low {
		o.Low = tick.Price
	}
	if tick.Timestamp.Before(o.OpenTimestamp) {
		o.OpenTimestamp = tick.Timestamp
		o.Open = tick.Price
	}
	if tick.Timestamp.After(o.CloseTimestamp) {
		o.CloseTimestamp = tick.Timestamp
		o.Close = tick.Price
	}
}

// Candle is the durable record of one bucket.
type Candle struct {
	Series          string         `json:"series"`
	Instrument      string         `json:"instrument"`
	Timeframe       string         `json:"timeframe"`
	IntervalSeconds int64          `json:"interval_seconds"`
	PeriodStart     time.Time      `json:"period_start"`
	OHLCV
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCandle returns an empty record addressed by key.
func NewCandle(key CandleKey) Candle {
	return Candle{
		Series:          key.Series.Key(),
		Instrument:      key.Series.Instrument,
		Timeframe:       key.Series.Timeframe.Name,
		IntervalSeconds: key.Series.Timeframe.Seconds(),
		PeriodStart:     key.PeriodStart.UTC(),
	}
}
