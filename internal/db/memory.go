package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pairslab/pairscope/internal/bar"
	"github.com/pairslab/pairscope/internal/tick"
)

// Memory implements Storage entirely in memory. It is used by tests and by
// sessions running without a Postgres connection string.
type Memory struct {
	mu    sync.RWMutex
	bars  map[string][]bar.Bar // instrument|interval -> bars sorted by open time
	ticks map[string][]tick.Tick
}

func NewMemory() *Memory {
	return &Memory{
		bars:  make(map[string][]bar.Bar),
		ticks: make(map[string][]tick.Tick),
	}
}

func barKey(instrument, interval string) string {
	return instrument + "|" + interval
}

func (m *Memory) SaveBars(ctx context.Context, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid bar at index %d for %s %s at %s: %w",
				i, b.Instrument, b.Interval, b.OpenTime, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bars {
		key := barKey(b.Instrument, b.Interval)
		existing := m.bars[key]

		replaced := false
		for i := range existing {
			if existing[i].OpenTime.Equal(b.OpenTime) {
				existing[i] = b
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, b)
			sort.Slice(existing, func(i, j int) bool {
				return existing[i].OpenTime.Before(existing[j].OpenTime)
			})
		}
		m.bars[key] = existing
	}

	return nil
}

func (m *Memory) GetBars(ctx context.Context, instrument, interval string, start, end time.Time) ([]bar.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []bar.Bar
	for _, b := range m.bars[barKey(instrument, interval)] {
		if !b.OpenTime.Before(start) && b.OpenTime.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) GetLatestBar(ctx context.Context, instrument, interval string) (*bar.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bars := m.bars[barKey(instrument, interval)]
	if len(bars) == 0 {
		return nil, nil
	}
	latest := bars[len(bars)-1]
	return &latest, nil
}

func (m *Memory) GetBarCount(ctx context.Context, instrument, interval string, start, end time.Time) (int, error) {
	bars, err := m.GetBars(ctx, instrument, interval, start, end)
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

func (m *Memory) DeleteBars(ctx context.Context, instrument, interval string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := barKey(instrument, interval)
	var kept []bar.Bar
	for _, b := range m.bars[key] {
		if !b.OpenTime.Before(before) {
			kept = append(kept, b)
		}
	}
	m.bars[key] = kept
	return nil
}

func (m *Memory) SaveTicks(ctx context.Context, ticks []tick.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range ticks {
		m.ticks[t.Instrument] = append(m.ticks[t.Instrument], t)
	}
	return nil
}

func (m *Memory) GetTicks(ctx context.Context, instrument string, start, end time.Time) ([]tick.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []tick.Tick
	for _, t := range m.ticks[instrument] {
		if !t.Timestamp.Before(start) && t.Timestamp.Before(end) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
