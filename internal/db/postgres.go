package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pairslab/pairscope/internal/bar"
	"github.com/pairslab/pairscope/internal/tick"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Postgres implements Storage on database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres-backed store with the given pool limits.
func NewPostgres(connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Postgres{db: sqlDB}, nil
}

// NewPostgresFromDB wraps an existing connection (used by tests).
func NewPostgresFromDB(sqlDB *sql.DB) *Postgres {
	return &Postgres{db: sqlDB}
}

func (p *Postgres) GetDB() *sql.DB {
	return p.db
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// SaveBars saves sealed bars in one transaction. A conflicting
// (instrument, interval, open_time) key updates the stored bar, so re-sealed
// buckets after a reconnect never duplicate rows.
func (p *Postgres) SaveBars(ctx context.Context, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid bar at index %d for %s %s at %s: %w",
				i, b.Instrument, b.Interval, b.OpenTime, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bars (instrument, interval, open_time, open, high, low, close, volume, tick_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (instrument, interval, open_time) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume, tick_count=EXCLUDED.tick_count`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar insert statement: %w", err)
		}
		defer stmt.Close()

		for i, b := range bars {
			if _, err := stmt.ExecContext(ctx,
				b.Instrument, b.Interval, b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume, b.TickCount); err != nil {
				return fmt.Errorf("failed to save bar at index %d (%s %s at %s): %w",
					i, b.Instrument, b.Interval, b.OpenTime, err)
			}
		}

		return nil
	})
}

// GetBars retrieves bars in a specific time range for an instrument and interval
func (p *Postgres) GetBars(ctx context.Context, instrument, interval string, start, end time.Time) ([]bar.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT instrument, interval, open_time, open, high, low, close, volume, tick_count
		FROM bars
		WHERE instrument=$1 AND interval=$2 AND open_time >= $3 AND open_time < $4
		ORDER BY open_time ASC`,
		instrument, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []bar.Bar
	for rows.Next() {
		var b bar.Bar
		if err := rows.Scan(&b.Instrument, &b.Interval, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TickCount); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.OpenTime = b.OpenTime.UTC()
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar rows: %w", err)
	}

	return bars, nil
}

// GetLatestBar retrieves the most recent bar for an instrument and interval
func (p *Postgres) GetLatestBar(ctx context.Context, instrument, interval string) (*bar.Bar, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT instrument, interval, open_time, open, high, low, close, volume, tick_count
		FROM bars
		WHERE instrument=$1 AND interval=$2
		ORDER BY open_time DESC LIMIT 1`,
		instrument, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bar: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var b bar.Bar
		if err := rows.Scan(&b.Instrument, &b.Interval, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TickCount); err != nil {
			return nil, fmt.Errorf("failed to scan latest bar: %w", err)
		}
		b.OpenTime = b.OpenTime.UTC()
		return &b, nil
	}

	return nil, rows.Err()
}

// GetBarCount returns the number of bars in a time range
func (p *Postgres) GetBarCount(ctx context.Context, instrument, interval string, start, end time.Time) (int, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT COUNT(*) FROM bars
		WHERE instrument=$1 AND interval=$2 AND open_time >= $3 AND open_time < $4`,
		instrument, interval, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan bar count: %w", err)
		}
	}
	return count, rows.Err()
}

// DeleteBars removes bars older than the cutoff to prevent unbounded growth
func (p *Postgres) DeleteBars(ctx context.Context, instrument, interval string, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM bars WHERE instrument=$1 AND interval=$2 AND open_time < $3`,
			instrument, interval, before); err != nil {
			return fmt.Errorf("failed to delete bars: %w", err)
		}
		return nil
	})
}

// SaveTicks persists normalized ticks for offline audit and re-resampling
func (p *Postgres) SaveTicks(ctx context.Context, ticks []tick.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ticks (instrument, ts, price, quantity)
			VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("failed to prepare tick insert statement: %w", err)
		}
		defer stmt.Close()

		for i, t := range ticks {
			if _, err := stmt.ExecContext(ctx, t.Instrument, t.Timestamp, t.Price, t.Quantity); err != nil {
				return fmt.Errorf("failed to save tick at index %d (%s at %s): %w",
					i, t.Instrument, t.Timestamp, err)
			}
		}

		return nil
	})
}

// GetTicks retrieves ticks in a time range ordered by timestamp ascending
func (p *Postgres) GetTicks(ctx context.Context, instrument string, start, end time.Time) ([]tick.Tick, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT instrument, ts, price, quantity
		FROM ticks
		WHERE instrument=$1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`,
		instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []tick.Tick
	for rows.Next() {
		var t tick.Tick
		if err := rows.Scan(&t.Instrument, &t.Timestamp, &t.Price, &t.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		ticks = append(ticks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tick rows: %w", err)
	}

	return ticks, nil
}
