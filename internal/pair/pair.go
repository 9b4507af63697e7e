// Package pair aligns two instruments' sealed-bar streams on a common
// timeline.
package pair

import (
	"fmt"
	"sync"
	"time"

	"github.com/pairslab/pairscope/internal/bar"
)

// AlignedPoint is one row of the aligned series: both instruments had a
// sealed bar for the same bucket.
type AlignedPoint struct {
	OpenTime time.Time `json:"open_time"`
	PriceX   float64   `json:"price_x"`
	PriceY   float64   `json:"price_y"`
}

// Synchronizer performs a streaming inner join of the X and Y sealed-bar
// streams on bucket open time. A bar present on only one side is held
// pending until its counterpart arrives or it is evicted oldest-first by
// buffer capacity; unmatched rows are dropped, never interpolated.
//
// The synchronizer is the single serialization point between the two
// instrument streams: all methods take an internal lock.
type Synchronizer struct {
	mu sync.Mutex

	instrumentX string
	instrumentY string
	interval    string
	capacity    int

	pendingX []bar.Bar
	pendingY []bar.Bar
	aligned  []AlignedPoint
}

// NewSynchronizer creates a synchronizer for the (x, y) pair at the given
// interval. capacity bounds the pending buffers and the trailing aligned
// series; it should be the analytics window size plus a margin.
func NewSynchronizer(instrumentX, instrumentY, interval string, capacity int) *Synchronizer {
	if capacity < 1 {
		capacity = 1
	}
	return &Synchronizer{
		instrumentX: instrumentX,
		instrumentY: instrumentY,
		interval:    interval,
		capacity:    capacity,
	}
}

// Push offers a sealed bar to the join. It returns the new aligned point and
// true when the bar's counterpart was already pending.
func (s *Synchronizer) Push(b bar.Bar) (AlignedPoint, bool, error) {
	if b.Interval != s.interval {
		return AlignedPoint{}, false, fmt.Errorf("unexpected interval %s, want %s", b.Interval, s.interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var own, other *[]bar.Bar
	switch b.Instrument {
	case s.instrumentX:
		own, other = &s.pendingX, &s.pendingY
	case s.instrumentY:
		own, other = &s.pendingY, &s.pendingX
	default:
		return AlignedPoint{}, false, fmt.Errorf("instrument %s is not part of pair (%s, %s)", b.Instrument, s.instrumentX, s.instrumentY)
	}

	match := -1
	for i, p := range *other {
		if p.OpenTime.Equal(b.OpenTime) {
			match = i
			break
		}
	}

	if match < 0 {
		*own = append(*own, b)
		if len(*own) > s.capacity {
			*own = (*own)[1:]
		}
		return AlignedPoint{}, false, nil
	}

	counterpart := (*other)[match]
	// Both streams have advanced past this bucket: anything older on either
	// side can never find a counterpart.
	rest := make([]bar.Bar, 0, len(*other)-1)
	rest = append(rest, (*other)[:match]...)
	rest = append(rest, (*other)[match+1:]...)
	*other = dropThrough(rest, b.OpenTime)
	*own = dropThrough(*own, b.OpenTime)

	pt := AlignedPoint{OpenTime: b.OpenTime}
	if b.Instrument == s.instrumentX {
		pt.PriceX = b.Close
		pt.PriceY = counterpart.Close
	} else {
		pt.PriceX = counterpart.Close
		pt.PriceY = b.Close
	}

	s.aligned = append(s.aligned, pt)
	if len(s.aligned) > s.capacity {
		s.aligned = s.aligned[len(s.aligned)-s.capacity:]
	}

	return pt, true, nil
}

// dropThrough discards bars at or before cutoff.
func dropThrough(bars []bar.Bar, cutoff time.Time) []bar.Bar {
	var out []bar.Bar
	for _, b := range bars {
		if b.OpenTime.After(cutoff) {
			out = append(out, b)
		}
	}
	return out
}

// Window returns a copy of the trailing n aligned points (all of them when
// fewer are available). The copy is safe to read while new bars arrive.
func (s *Synchronizer) Window(n int) []AlignedPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.aligned) {
		n = len(s.aligned)
	}
	out := make([]AlignedPoint, n)
	copy(out, s.aligned[len(s.aligned)-n:])
	return out
}

// Len returns the number of aligned points currently buffered.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.aligned)
}
