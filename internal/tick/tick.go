// Package tick
package tick

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrMalformedTick is returned when a raw trade violates the tick schema.
	ErrMalformedTick = errors.New("malformed tick")
	// ErrNonMonotonicTimestamp is returned when a tick's timestamp precedes
	// the last accepted tick for the same instrument.
	ErrNonMonotonicTimestamp = errors.New("non-monotonic timestamp")
)

// Tick represents a single normalized trade. Immutable once created.
type Tick struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
}

// Raw is an unvalidated trade event as delivered by a feed.
type Raw struct {
	Instrument string
	TimeMillis int64
	Price      float64
	Quantity   float64
}

// Normalizer validates raw trade events into canonical ticks and enforces
// per-instrument timestamp monotonicity. Safe for concurrent use.
type Normalizer struct {
	mu         sync.Mutex
	known      map[string]bool
	lastAccept map[string]time.Time
}

// NewNormalizer creates a normalizer accepting only the given instruments.
func NewNormalizer(instruments []string) *Normalizer {
	known := make(map[string]bool, len(instruments))
	for _, in := range instruments {
		known[in] = true
	}
	return &Normalizer{
		known:      known,
		lastAccept: make(map[string]time.Time),
	}
}

// Normalize validates a raw trade and returns the canonical tick.
// Out-of-order ticks are rejected, never reordered: earlier bars must not
// be corrected retroactively.
func (n *Normalizer) Normalize(raw Raw) (Tick, error) {
	if raw.Instrument == "" {
		return Tick{}, fmt.Errorf("%w: missing instrument", ErrMalformedTick)
	}
	if raw.TimeMillis <= 0 {
		return Tick{}, fmt.Errorf("%w: missing timestamp for %s", ErrMalformedTick, raw.Instrument)
	}
	if raw.Price <= 0 {
		return Tick{}, fmt.Errorf("%w: non-positive price %v for %s", ErrMalformedTick, raw.Price, raw.Instrument)
	}
	if raw.Quantity < 0 {
		return Tick{}, fmt.Errorf("%w: negative quantity %v for %s", ErrMalformedTick, raw.Quantity, raw.Instrument)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.known[raw.Instrument] {
		return Tick{}, fmt.Errorf("%w: unknown instrument %s", ErrMalformedTick, raw.Instrument)
	}

	ts := time.UnixMilli(raw.TimeMillis).UTC()
	if last, ok := n.lastAccept[raw.Instrument]; ok && ts.Before(last) {
		return Tick{}, fmt.Errorf("%w: %s tick at %s precedes last accepted %s",
			ErrNonMonotonicTimestamp, raw.Instrument, ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}
	n.lastAccept[raw.Instrument] = ts

	return Tick{
		Instrument: raw.Instrument,
		Timestamp:  ts,
		Price:      raw.Price,
		Quantity:   raw.Quantity,
	}, nil
}
