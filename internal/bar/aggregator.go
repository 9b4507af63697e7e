package bar

import (
	"errors"
	"fmt"
	"time"

	"github.com/pairslab/pairscope/internal/interval"
	"github.com/pairslab/pairscope/internal/tick"
)

// ErrLateTick is returned when a tick's bucket precedes the currently open
// bucket. The tick is dropped; a sealed bar is never reopened.
var ErrLateTick = errors.New("late tick")

type slot struct {
	instrument string
	duration   time.Duration
}

// Aggregator folds a per-instrument tick stream into OHLCV bars at every
// configured interval. State is independent per (instrument, interval), so a
// single tick stream feeds all intervals without mutual interference.
//
// The aggregator is not safe for concurrent use: each instrument stream owns
// its own Aggregator (or the caller serializes access).
type Aggregator struct {
	intervals []string
	open      map[string]map[string]*Bar // instrument -> interval -> open bar
}

// NewAggregator creates an aggregator producing bars at the given intervals.
func NewAggregator(intervals []string) (*Aggregator, error) {
	if len(intervals) == 0 {
		return nil, errors.New("at least one interval is required")
	}
	for _, iv := range intervals {
		if !interval.IsValid(iv) {
			return nil, fmt.Errorf("unsupported interval %s", iv)
		}
	}
	return &Aggregator{
		intervals: intervals,
		open:      make(map[string]map[string]*Bar),
	}, nil
}

// Ingest folds one tick into every configured interval and returns the bars
// sealed by it, if any. A bucket seals when a tick belonging to a later
// bucket arrives; gap buckets with zero ticks are not synthesized, their
// absence is significant to the pair synchronizer.
func (a *Aggregator) Ingest(t tick.Tick) ([]Bar, error) {
	if a.open[t.Instrument] == nil {
		a.open[t.Instrument] = make(map[string]*Bar, len(a.intervals))
	}

	var sealed []Bar
	for _, iv := range a.intervals {
		dur := interval.Duration(iv)
		bucket := interval.BucketStart(t.Timestamp, dur)

		cur := a.open[t.Instrument][iv]
		if cur == nil {
			a.open[t.Instrument][iv] = newBar(t, iv, bucket)
			continue
		}

		switch {
		case bucket.Equal(cur.OpenTime):
			cur.High = max(cur.High, t.Price)
			cur.Low = min(cur.Low, t.Price)
			cur.Close = t.Price
			cur.Volume += t.Quantity
			cur.TickCount++
		case bucket.After(cur.OpenTime):
			sealed = append(sealed, *cur)
			a.open[t.Instrument][iv] = newBar(t, iv, bucket)
		default:
			// Older than the open bucket: dropped. Buckets already sealed at
			// other intervals stay sealed.
			return sealed, fmt.Errorf("%w: %s %s tick at %s before open bucket %s",
				ErrLateTick, t.Instrument, iv, t.Timestamp.Format(time.RFC3339Nano), cur.OpenTime.Format(time.RFC3339Nano))
		}
	}

	return sealed, nil
}

// Flush seals and returns all still-open bars for an instrument, e.g. at end
// of session. Subsequent ticks start fresh buckets.
func (a *Aggregator) Flush(instrument string) []Bar {
	byInterval := a.open[instrument]
	if byInterval == nil {
		return nil
	}

	var sealed []Bar
	for _, iv := range a.intervals {
		if cur := byInterval[iv]; cur != nil {
			sealed = append(sealed, *cur)
			delete(byInterval, iv)
		}
	}
	return sealed
}

// FlushAll seals all open bars across instruments.
func (a *Aggregator) FlushAll() []Bar {
	var sealed []Bar
	for instrument := range a.open {
		sealed = append(sealed, a.Flush(instrument)...)
	}
	return sealed
}

// OpenBar returns a copy of the currently open bar, if any.
func (a *Aggregator) OpenBar(instrument, iv string) (Bar, bool) {
	if byInterval := a.open[instrument]; byInterval != nil {
		if cur := byInterval[iv]; cur != nil {
			return *cur, true
		}
	}
	return Bar{}, false
}

func newBar(t tick.Tick, iv string, bucket time.Time) *Bar {
	return &Bar{
		Instrument: t.Instrument,
		Interval:   iv,
		OpenTime:   bucket,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Quantity,
		TickCount:  1,
	}
}
