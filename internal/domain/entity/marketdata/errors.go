package marketdata

import "errors"

var (
	// ErrUnsupportedTimeframe is returned when a duration maps to no bucketing rule.
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	// ErrChartSeriesUnresolvable is returned for an (instrument, timeframe) pair outside the catalog.
	ErrChartSeriesUnresolvable = errors.New("chart series unresolvable")
	// ErrCandleNotFound is returned by repositories when no record exists for a key.
	ErrCandleNotFound = errors.New("candle not found")
	// ErrInvalidTick is returned for ticks that cannot be aggregated.
	ErrInvalidTick = errors.New("invalid tick")
)
