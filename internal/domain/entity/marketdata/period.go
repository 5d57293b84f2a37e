package marketdata

import (
	"fmt"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// PeriodStart returns the start of the bucket of length d that contains ts.
// The result is always in UTC. Sub-day buckets are aligned inside the enclosing
// minute, hour or day; d == 24h aligns to midnight and d == 168h to the Monday
// of the ISO week.
func PeriodStart(ts time.Time, d time.Duration) (time.Time, error) {
	if d <= 0 || d%time.Second != 0 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnsupportedTimeframe, d)
	}
	ts = ts.UTC()
	seconds := int(d / time.Second)

	switch {
	case d < time.Minute:
		second := ts.Second() / seconds * seconds
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), second, 0, time.UTC), nil
	case d < time.Hour:
		step := seconds / 60
		minute := ts.Minute() / step * step
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), minute, 0, 0, time.UTC), nil
	case d < day:
		step := seconds / 3600
		hour := ts.Hour() / step * step
		return time.Date(ts.Year(), ts.Month(), ts.Day(), hour, 0, 0, 0, time.UTC), nil
	case d == day:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	case d == week:
		// Weekday counts from Sunday; ISO weeks start on Monday.
		offset := (int(ts.Weekday()) + 6) % 7
		return time.Date(ts.Year(), ts.Month(), ts.Day()-offset, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnsupportedTimeframe, d)
	}
}
