package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is one of the supported candle durations.
type Timeframe struct {
	Name     string
	Duration time.Duration
}

var (
	Timeframe10s = Timeframe{Name: "10s", Duration: 10 * time.Second}
	Timeframe1m  = Timeframe{Name: "1m", Duration: time.Minute}
	Timeframe5m  = Timeframe{Name: "5m", Duration: 5 * time.Minute}
	Timeframe15m = Timeframe{Name: "15m", Duration: 15 * time.Minute}
	Timeframe30m = Timeframe{Name: "30m", Duration: 30 * time.Minute}
	Timeframe1h  = Timeframe{Name: "1h", Duration: time.Hour}
	Timeframe2h  = Timeframe{Name: "2h", Duration: 2 * time.Hour}
	Timeframe4h  = Timeframe{Name: "4h", Duration: 4 * time.Hour}
	Timeframe6h  = Timeframe{Name: "6h", Duration: 6 * time.Hour}
	Timeframe12h = Timeframe{Name: "12h", Duration: 12 * time.Hour}
	Timeframe1d  = Timeframe{Name: "1d", Duration: day}
	Timeframe1w  = Timeframe{Name: "1w", Duration: week}
)

// AllTimeframes lists every supported timeframe, shortest first.
var AllTimeframes = []Timeframe{
	Timeframe10s, Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe2h, Timeframe4h, Timeframe6h, Timeframe12h,
	Timeframe1d, Timeframe1w,
}

var timeframeRegistry = make(map[string]Timeframe, len(AllTimeframes))

func init() {
	for _, tf := range AllTimeframes {
		timeframeRegistry[tf.Name] = tf
	}
}

func (t Timeframe) String() string {
	return t.Name
}

// Seconds returns the timeframe length in whole seconds.
func (t Timeframe) Seconds() int64 {
	return int64(t.Duration / time.Second)
}

// PeriodStart returns the bucket start for ts in this timeframe.
func (t Timeframe) PeriodStart(ts time.Time) (time.Time, error) {
	return PeriodStart(ts, t.Duration)
}

// Validate checks that the timeframe maps to a bucketing rule.
func (t Timeframe) Validate() error {
	if _, err := PeriodStart(time.Unix(0, 0), t.Duration); err != nil {
		return fmt.Errorf("timeframe %q: %w", t.Name, err)
	}
	return nil
}

// ParseTimeframe looks up a timeframe by name.
func ParseTimeframe(name string) (Timeframe, error) {
	tf, ok := timeframeRegistry[strings.TrimSpace(name)]
	if !ok {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, name)
	}
	return tf, nil
}

// ParseTimeframes parses a list of names, skipping blanks and duplicates.
func ParseTimeframes(names []string) ([]Timeframe, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]Timeframe, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		tf, err := ParseTimeframe(name)
		if err != nil {
			return nil, err
		}
		seen[name] = struct{}{}
		out = append(out, tf)
	}
	return out, nil
}
