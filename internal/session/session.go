// Package session wires one pair-monitoring pipeline: feed → normalizer →
// per-instrument aggregators → store and synchronizer → analytics → alerts.
// Sessions are explicit values; several can run concurrently against the
// same storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pairslab/pairscope/internal/alert"
	"github.com/pairslab/pairscope/internal/analytics"
	"github.com/pairslab/pairscope/internal/bar"
	"github.com/pairslab/pairscope/internal/db"
	"github.com/pairslab/pairscope/internal/exchange"
	"github.com/pairslab/pairscope/internal/interval"
	"github.com/pairslab/pairscope/internal/metrics"
	"github.com/pairslab/pairscope/internal/notifier"
	"github.com/pairslab/pairscope/internal/pair"
	"github.com/pairslab/pairscope/internal/tick"
)

const (
	tickFlushBatch   = 64
	maxKeptSnapshots = 10000
)

// Config is the per-session configuration surface.
type Config struct {
	InstrumentX string
	InstrumentY string
	// Intervals aggregated from the tick stream; must contain AnalyticsInterval.
	Intervals []string
	// AnalyticsInterval drives the pair join and the analytics loop.
	AnalyticsInterval string
	WindowSize        int
	// BufferMargin pads the synchronizer's trailing buffers beyond the window.
	BufferMargin   int
	AlertThreshold float64
	AlertPolicy    alert.Policy
	MinADFSamples  int
}

func (c *Config) validate() error {
	if c.InstrumentX == "" || c.InstrumentY == "" {
		return errors.New("both pair instruments are required")
	}
	if c.InstrumentX == c.InstrumentY {
		return errors.New("pair instruments must differ")
	}
	if c.WindowSize < 2 {
		return errors.New("window size must be at least 2")
	}
	if len(c.Intervals) == 0 {
		return errors.New("at least one interval is required")
	}
	found := false
	for _, iv := range c.Intervals {
		if !interval.IsValid(iv) {
			return fmt.Errorf("unsupported interval %s", iv)
		}
		if iv == c.AnalyticsInterval {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("analytics interval %s is not among aggregated intervals", c.AnalyticsInterval)
	}
	return nil
}

// Session owns the full pipeline state for one instrument pair.
type Session struct {
	ID  uuid.UUID
	cfg Config
	log zerolog.Logger

	storage db.Storage
	source  exchange.TickSource
	notify  notifier.Notifier
	normal  *tick.Normalizer
	sync    *pair.Synchronizer
	engine  *analytics.Engine
	eval    *alert.Evaluator
	aligned chan struct{} // coalesced new-aligned-point signal

	mu        sync.RWMutex
	latest    analytics.Snapshot
	hasLatest bool
	snapshots []analytics.Snapshot
}

// New creates a session. storage and source are required; notify may be nil
// (alerts are then only logged).
func New(cfg Config, storage db.Storage, source exchange.TickSource, notify notifier.Notifier, log zerolog.Logger) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if notify == nil {
		notify = notifier.Noop{}
	}
	if cfg.BufferMargin < 1 {
		cfg.BufferMargin = 16
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 2.0
	}
	if cfg.MinADFSamples < 1 {
		cfg.MinADFSamples = 20
	}

	id := uuid.New()
	return &Session{
		ID:      id,
		cfg:     cfg,
		log:     log.With().Str("session", id.String()).Str("pair", cfg.InstrumentX+"/"+cfg.InstrumentY).Logger(),
		storage: storage,
		source:  source,
		notify:  notify,
		normal:  tick.NewNormalizer([]string{cfg.InstrumentX, cfg.InstrumentY}),
		sync:    pair.NewSynchronizer(cfg.InstrumentX, cfg.InstrumentY, cfg.AnalyticsInterval, cfg.WindowSize+cfg.BufferMargin),
		engine:  analytics.NewEngine(cfg.WindowSize, cfg.MinADFSamples),
		eval:    alert.NewEvaluator(cfg.AlertThreshold, cfg.AlertPolicy),
		aligned: make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is cancelled, then flushes open bars and drains the
// analytics loop before returning. Storage writes are never cut off
// mid-flight.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info().
		Strs("intervals", s.cfg.Intervals).
		Str("analytics_interval", s.cfg.AnalyticsInterval).
		Int("window", s.cfg.WindowSize).
		Msg("session starting")

	raws := make(chan tick.Raw, 1024)
	chX := make(chan tick.Tick, 256)
	chY := make(chan tick.Tick, 256)

	var feedErr error
	var wg sync.WaitGroup

	// Feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.source.Stream(ctx, raws); err != nil && !errors.Is(err, context.Canceled) {
			feedErr = err
			s.log.Error().Err(err).Msg("tick source failed")
		}
		close(raws)
	}()

	// Normalize and route. A single goroutine keeps per-instrument order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(chX)
		defer close(chY)
		for raw := range raws {
			t, err := s.normal.Normalize(raw)
			if err != nil {
				s.dropTick(raw.Instrument, err)
				continue
			}
			metrics.TicksIngested.WithLabelValues(t.Instrument).Inc()
			switch t.Instrument {
			case s.cfg.InstrumentX:
				chX <- t
			case s.cfg.InstrumentY:
				chY <- t
			}
		}
	}()

	// One ingest loop per instrument; each owns its aggregator exclusively,
	// so no cross-stream locking is needed.
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runIngest(s.cfg.InstrumentX, chX)
	}()
	go func() {
		defer wg.Done()
		s.runIngest(s.cfg.InstrumentY, chY)
	}()

	// Analytics loop, serialized and coalesced: only the latest aligned
	// point needs analyzing when arrivals outpace computation.
	analyticsDone := make(chan struct{})
	go func() {
		defer close(analyticsDone)
		for range s.aligned {
			s.recompute()
		}
	}()

	wg.Wait()
	close(s.aligned)
	<-analyticsDone

	s.log.Info().Msg("session stopped")
	return feedErr
}

// runIngest consumes one instrument's normalized ticks until the channel
// closes, then flushes the still-open buckets.
func (s *Session) runIngest(instrument string, in <-chan tick.Tick) {
	agg, err := bar.NewAggregator(s.cfg.Intervals)
	if err != nil {
		s.log.Error().Err(err).Str("instrument", instrument).Msg("failed to build aggregator")
		for range in {
		}
		return
	}

	var pending []tick.Tick
	flushTicks := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.storage.SaveTicks(context.Background(), pending); err != nil {
			s.log.Error().Err(err).Str("instrument", instrument).Msg("failed to persist ticks")
		}
		pending = pending[:0]
	}

	for t := range in {
		pending = append(pending, t)

		sealed, err := agg.Ingest(t)
		if err != nil {
			s.dropTick(instrument, err)
		}
		if len(sealed) > 0 {
			s.handleSealed(sealed)
			flushTicks()
		} else if len(pending) >= tickFlushBatch {
			flushTicks()
		}
	}

	// End of stream: seal whatever is open so the last partial buckets are
	// not lost.
	if sealed := agg.Flush(instrument); len(sealed) > 0 {
		s.handleSealed(sealed)
	}
	flushTicks()
}

// handleSealed persists sealed bars and offers the analytics-interval ones
// to the pair join.
func (s *Session) handleSealed(sealed []bar.Bar) {
	// Shutdown must not abandon the write, hence a background context.
	if err := s.storage.SaveBars(context.Background(), sealed); err != nil {
		s.log.Error().Err(err).Msg("failed to persist sealed bars")
	}

	for _, b := range sealed {
		metrics.BarsSealed.WithLabelValues(b.Instrument, b.Interval).Inc()
		s.log.Debug().
			Str("instrument", b.Instrument).
			Str("interval", b.Interval).
			Time("open_time", b.OpenTime).
			Float64("close", b.Close).
			Int("ticks", b.TickCount).
			Msg("bar sealed")

		if b.Interval != s.cfg.AnalyticsInterval {
			continue
		}
		if _, matched, err := s.sync.Push(b); err != nil {
			s.log.Warn().Err(err).Msg("bar rejected by pair synchronizer")
		} else if matched {
			select {
			case s.aligned <- struct{}{}:
			default: // a recompute is already queued; coalesce
			}
		}
	}
}

// recompute takes a consistent window copy, runs the engine outside the
// synchronizer lock, and publishes the snapshot.
func (s *Session) recompute() {
	window := s.sync.Window(s.cfg.WindowSize)
	snap := s.engine.Update(window)
	metrics.SnapshotsComputed.Inc()

	s.mu.Lock()
	s.latest = snap
	s.hasLatest = true
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > maxKeptSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-maxKeptSnapshots:]
	}
	s.mu.Unlock()

	if a, fired := s.eval.Evaluate(snap); fired {
		metrics.AlertsFired.Inc()
		s.log.Warn().
			Float64("z_score", a.ZScore).
			Float64("threshold", a.Threshold).
			Time("as_of", a.Time).
			Msg("z-score alert")
		go func() {
			if err := s.notify.SendWithRetry(a.String()); err != nil {
				s.log.Error().Err(err).Msg("failed to deliver alert notification")
			}
		}()
	}
}

// LatestSnapshot returns the most recent analytics snapshot, if any.
func (s *Session) LatestSnapshot() (analytics.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Snapshots returns a copy of the retained snapshot history for export.
func (s *Session) Snapshots() []analytics.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analytics.Snapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Bars reads back persisted bars for one side of the pair.
func (s *Session) Bars(ctx context.Context, instrument string, start, end time.Time) ([]bar.Bar, error) {
	return s.storage.GetBars(ctx, instrument, s.cfg.AnalyticsInterval, start, end)
}

func (s *Session) dropTick(instrument string, err error) {
	reason := "malformed"
	switch {
	case errors.Is(err, tick.ErrNonMonotonicTimestamp):
		reason = "non_monotonic"
	case errors.Is(err, bar.ErrLateTick):
		reason = "late"
	}
	if instrument == "" {
		instrument = "unknown"
	}
	metrics.TicksDropped.WithLabelValues(instrument, reason).Inc()
	s.log.Warn().Err(err).Str("instrument", instrument).Str("reason", reason).Msg("tick dropped")
}
