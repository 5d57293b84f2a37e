package marketdata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChartSeries identifies one (instrument, timeframe) aggregation stream.
type ChartSeries struct {
	Instrument string
	Timeframe  Timeframe
}

// Key is the stable identifier used by durable storage.
func (s ChartSeries) Key() string {
	return s.Instrument + ":" + s.Timeframe.Name
}

func (s ChartSeries) String() string {
	return s.Key()
}

// CandleKey addresses one bucket of one series.
type CandleKey struct {
	Series      ChartSeries
	PeriodStart time.Time
}

// SeriesCatalog is the validated set of series the process tracks.
type SeriesCatalog struct {
	instruments []string
	timeframes  []Timeframe
	series      map[string]map[string]ChartSeries
}

// NewSeriesCatalog builds the catalog for every instrument × timeframe pair.
// It fails on an empty instrument list, a blank instrument or an unsupported timeframe.
func NewSeriesCatalog(instruments []string, timeframes []Timeframe) (*SeriesCatalog, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", ErrChartSeriesUnresolvable)
	}
	if len(timeframes) == 0 {
		return nil, errors.New("no timeframes configured")
	}
	for _, tf := range timeframes {
		if err := tf.Validate(); err != nil {
			return nil, err
		}
	}

	c := &SeriesCatalog{
		timeframes: append([]Timeframe(nil), timeframes...),
		series:     make(map[string]map[string]ChartSeries, len(instruments)),
	}
	for _, raw := range instruments {
		instrument := strings.TrimSpace(raw)
		if instrument == "" {
			return nil, fmt.Errorf("%w: blank instrument", ErrChartSeriesUnresolvable)
		}
		if _, ok := c.series[instrument]; ok {
			continue
		}
		byTF := make(map[string]ChartSeries, len(timeframes))
		for _, tf := range timeframes {
			byTF[tf.Name] = ChartSeries{Instrument: instrument, Timeframe: tf}
		}
		c.series[instrument] = byTF
		c.instruments = append(c.instruments, instrument)
	}
	return c, nil
}

// Resolve returns the series for the pair or ErrChartSeriesUnresolvable.
func (c *SeriesCatalog) Resolve(instrument string, tf Timeframe) (ChartSeries, error) {
	byTF, ok := c.series[instrument]
	if !ok {
		return ChartSeries{}, fmt.Errorf("%w: instrument %q", ErrChartSeriesUnresolvable, instrument)
	}
	s, ok := byTF[tf.Name]
	if !ok {
		return ChartSeries{}, fmt.Errorf("%w: %s timeframe %q", ErrChartSeriesUnresolvable, instrument, tf.Name)
	}
	return s, nil
}

// ResolveName is Resolve with the timeframe given by name.
func (c *SeriesCatalog) ResolveName(instrument, timeframe string) (ChartSeries, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return ChartSeries{}, err
	}
	return c.Resolve(instrument, tf)
}

// Instruments returns the tracked instruments in configuration order.
func (c *SeriesCatalog) Instruments() []string {
	return append([]string(nil), c.instruments...)
}

// Timeframes returns the tracked timeframes in configuration order.
func (c *SeriesCatalog) Timeframes() []Timeframe {
	return append([]Timeframe(nil), c.timeframes...)
}
