package marketdata

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TimestampPrecision is the finest tick time that durable storage keeps.
const TimestampPrecision = time.Microsecond

// Tick is a single trade observed on the feed.
type Tick struct {
	ID         uuid.UUID `json:"id"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate rejects ticks that cannot be aggregated.
func (t Tick) Validate() error {
	switch {
	case t.Instrument == "":
		return fmt.Errorf("%w: empty instrument", ErrInvalidTick)
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0):
		return fmt.Errorf("%w: price %v", ErrInvalidTick, t.Price)
	case math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0:
		return fmt.Errorf("%w: volume %v", ErrInvalidTick, t.Volume)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidTick)
	}
	return nil
}

// Normalize returns the tick with its timestamp in UTC truncated to
// TimestampPrecision, so open and close ties compare the same in memory and
// after a backfill.
func (t Tick) Normalize() Tick {
	t.Timestamp = t.Timestamp.UTC().Truncate(TimestampPrecision)
	return t
}
