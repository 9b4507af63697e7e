// Package db
package db

import (
	"context"
	"time"

	"github.com/pairslab/pairscope/internal/bar"
	"github.com/pairslab/pairscope/internal/tick"
)

// Storage is the append/query contract the core depends on. The core never
// assumes a specific engine: Postgres and an in-memory store both implement it.
type Storage interface {
	// SaveBars appends sealed bars. Re-appending a (instrument, interval,
	// open_time) key updates in place, so a resumed stream is idempotent.
	SaveBars(ctx context.Context, bars []bar.Bar) error
	// GetBars returns bars in [start, end) ordered by open time ascending.
	GetBars(ctx context.Context, instrument, interval string, start, end time.Time) ([]bar.Bar, error)
	GetLatestBar(ctx context.Context, instrument, interval string) (*bar.Bar, error)
	GetBarCount(ctx context.Context, instrument, interval string, start, end time.Time) (int, error)
	DeleteBars(ctx context.Context, instrument, interval string, before time.Time) error

	SaveTicks(ctx context.Context, ticks []tick.Tick) error
	GetTicks(ctx context.Context, instrument string, start, end time.Time) ([]tick.Tick, error)

	Close() error
}
