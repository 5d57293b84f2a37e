package marketdata

import (
	"sort"
	"sync"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
)

// StoreEntry is a point-in-time copy of one bucket.
type StoreEntry struct {
	Key     domain.CandleKey
	Candle  domain.OHLCV
	Version uint64
}

type bucket struct {
	candle  domain.OHLCV
	version uint64
}

// CandleStore keeps the in-memory buckets of every series behind one mutex.
type CandleStore struct {
	mu      sync.Mutex
	series  map[domain.ChartSeries]map[time.Time]*bucket
	buckets int
	seq     uint64
	// gen advances whenever Retain drops a bucket.
	gen uint64
}

func NewCandleStore() *CandleStore {
	return &CandleStore{
		series: make(map[domain.ChartSeries]map[time.Time]*bucket),
	}
}

// Missing returns the keys that have no bucket yet together with the
// retention generation they were observed at.
func (s *CandleStore) Missing(keys []domain.CandleKey) ([]domain.CandleKey, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.missingLocked(keys), s.gen
}

// Apply folds tick into the bucket of every key as one atomic step. A bucket
// that does not exist yet is created from its seed (and then updated with the
// tick) or, without a seed, from the tick alone.
//
// gen must be the generation returned by the Missing call the seeds were read
// for. If Retain dropped buckets since then, an absent key may be a pruned
// period whose seed was never read, so Apply changes nothing and returns the
// absent keys with the current generation for the caller to backfill again.
func (s *CandleStore) Apply(keys []domain.CandleKey, tick domain.Tick, seeds map[domain.CandleKey]domain.OHLCV, gen uint64) ([]domain.CandleKey, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		if missing := s.missingLocked(keys); len(missing) > 0 {
			return missing, s.gen
		}
	}

	for _, key := range keys {
		s.seq++
		if b := s.lookupLocked(key); b != nil {
			b.candle.Apply(tick)
			b.version = s.seq
			continue
		}

		var candle domain.OHLCV
		if seed, ok := seeds[key]; ok {
			candle = seed
			candle.Apply(tick)
		} else {
			candle = domain.NewOHLCV(tick)
		}
		s.insertLocked(key, &bucket{candle: candle, version: s.seq})
	}
	return nil, s.gen
}

// Snapshot copies every bucket.
func (s *CandleStore) Snapshot() []StoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]StoreEntry, 0, s.buckets)
	for series, periods := range s.series {
		for start, b := range periods {
			entries = append(entries, StoreEntry{
				Key:     domain.CandleKey{Series: series, PeriodStart: start},
				Candle:  b.candle,
				Version: b.version,
			})
		}
	}
	return entries
}

// Retain keeps the depth most recent periods of every series. Older buckets
// are dropped only if persisted holds them at their current version, so a
// bucket touched after the snapshot was taken stays until it is persisted.
// It returns the number of buckets removed.
func (s *CandleStore) Retain(persisted []StoreEntry, depth int) int {
	if depth < 0 {
		depth = 0
	}
	confirmed := make(map[domain.CandleKey]uint64, len(persisted))
	for _, e := range persisted {
		confirmed[e.Key] = e.Version
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for series, periods := range s.series {
		if len(periods) <= depth {
			continue
		}
		starts := make([]time.Time, 0, len(periods))
		for start := range periods {
			starts = append(starts, start)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i].After(starts[j]) })

		for _, start := range starts[depth:] {
			version, ok := confirmed[domain.CandleKey{Series: series, PeriodStart: start}]
			if !ok || version != periods[start].version {
				continue
			}
			delete(periods, start)
			removed++
		}
		if len(periods) == 0 {
			delete(s.series, series)
		}
	}
	s.buckets -= removed
	if removed > 0 {
		s.gen++
	}
	return removed
}

// Get returns a copy of one bucket.
func (s *CandleStore) Get(key domain.CandleKey) (domain.OHLCV, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookupLocked(key)
	if b == nil {
		return domain.OHLCV{}, false
	}
	return b.candle, true
}

// Candles returns copies of the buckets of one series keyed by period start.
func (s *CandleStore) Candles(series domain.ChartSeries) map[time.Time]domain.OHLCV {
	s.mu.Lock()
	defer s.mu.Unlock()

	periods := s.series[series]
	out := make(map[time.Time]domain.OHLCV, len(periods))
	for start, b := range periods {
		out[start] = b.candle
	}
	return out
}

// Len returns the number of buckets held.
func (s *CandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets
}

func (s *CandleStore) missingLocked(keys []domain.CandleKey) []domain.CandleKey {
	var missing []domain.CandleKey
	for _, key := range keys {
		if s.lookupLocked(key) == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

func (s *CandleStore) lookupLocked(key domain.CandleKey) *bucket {
	periods, ok := s.series[key.Series]
	if !ok {
		return nil
	}
	return periods[key.PeriodStart]
}

func (s *CandleStore) insertLocked(key domain.CandleKey, b *bucket) {
	periods, ok := s.series[key.Series]
	if !ok {
		periods = make(map[time.Time]*bucket)
		s.series[key.Series] = periods
	}
	periods[key.PeriodStart] = b
	s.buckets++
}
