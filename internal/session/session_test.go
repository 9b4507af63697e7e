package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairslab/pairscope/internal/alert"
	"github.com/pairslab/pairscope/internal/db"
	"github.com/pairslab/pairscope/internal/tick"
)

// scriptedSource replays a fixed tick sequence and then ends the stream, so
// a full pipeline run is deterministic.
type scriptedSource struct {
	raws []tick.Raw
	err  error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Stream(ctx context.Context, out chan<- tick.Raw) error {
	for _, r := range s.raws {
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type captureNotifier struct {
	ch chan string
}

func (c *captureNotifier) Send(msg string) error { return c.SendWithRetry(msg) }

func (c *captureNotifier) SendWithRetry(msg string) error {
	select {
	case c.ch <- msg:
	default:
	}
	return nil
}

func pairTicks(seconds int) []tick.Raw {
	const baseMillis = int64(1_700_000_000_000)
	var raws []tick.Raw
	for i := 0; i < seconds; i++ {
		y := 100 + 20*math.Sin(float64(i)*0.7)
		x := 2 + 3*y + 0.01*math.Sin(float64(i)*2.3)
		if i == seconds-1 {
			x += 5 // dislocation on the final bucket
		}
		ts := baseMillis + int64(i)*1000
		raws = append(raws,
			tick.Raw{Instrument: "BTCUSDT", TimeMillis: ts, Price: x, Quantity: 1},
			tick.Raw{Instrument: "ETHUSDT", TimeMillis: ts, Price: y, Quantity: 2},
		)
	}
	return raws
}

func testConfig() Config {
	return Config{
		InstrumentX:       "BTCUSDT",
		InstrumentY:       "ETHUSDT",
		Intervals:         []string{"1s"},
		AnalyticsInterval: "1s",
		WindowSize:        10,
		AlertThreshold:    2.0,
		AlertPolicy:       alert.PolicyEdge,
	}
}

func TestSession_EndToEnd(t *testing.T) {
	storage := db.NewMemory()
	source := &scriptedSource{raws: pairTicks(15)}
	notify := &captureNotifier{ch: make(chan string, 16)}

	sess, err := New(testConfig(), storage, source, notify, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, sess.Run(context.Background()))

	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000).UTC()
	end := start.Add(time.Hour)

	// Every bucket sealed, including the final one flushed at end of stream.
	for _, instrument := range []string{"BTCUSDT", "ETHUSDT"} {
		count, err := storage.GetBarCount(ctx, instrument, "1s", start, end)
		require.NoError(t, err)
		assert.Equal(t, 15, count, instrument)

		ticks, err := storage.GetTicks(ctx, instrument, start, end)
		require.NoError(t, err)
		assert.Len(t, ticks, 15, instrument)
	}

	bars, err := sess.Bars(ctx, "ETHUSDT", start, end)
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	assert.Equal(t, start, bars[0].OpenTime)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 2.0, bars[0].Volume)

	snap, ok := sess.LatestSnapshot()
	require.True(t, ok)
	require.True(t, snap.Ready())
	assert.Equal(t, 10, snap.SampleCount)
	assert.InDelta(t, 3.0, snap.HedgeRatio, 0.1)
	assert.True(t, snap.ADFUnavailable) // window below the ADF minimum
	assert.Greater(t, snap.ZScore, 2.0)

	select {
	case msg := <-notify.ch:
		assert.Contains(t, msg, "z-score alert")
	case <-time.After(2 * time.Second):
		t.Fatal("expected an alert notification")
	}

	assert.NotEmpty(t, sess.Snapshots())
}

func TestSession_FeedErrorPropagates(t *testing.T) {
	source := &scriptedSource{err: errors.New("connection refused")}
	sess, err := New(testConfig(), db.NewMemory(), source, nil, zerolog.Nop())
	require.NoError(t, err)

	err = sess.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestSession_CancelStops(t *testing.T) {
	// A source that delivers a few ticks and then blocks until cancelled;
	// Run must come back promptly.
	blocking := &blockingSource{inner: &scriptedSource{raws: pairTicks(3)}}
	sess, err := New(testConfig(), db.NewMemory(), blocking, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on cancel")
	}
}

type blockingSource struct {
	inner *scriptedSource
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Stream(ctx context.Context, out chan<- tick.Raw) error {
	if err := b.inner.Stream(ctx, out); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSession_MalformedTicksDropped(t *testing.T) {
	raws := pairTicks(5)
	raws = append(raws,
		tick.Raw{Instrument: "BTCUSDT", TimeMillis: 1_700_000_010_000, Price: -1, Quantity: 1},
		tick.Raw{Instrument: "DOGEUSDT", TimeMillis: 1_700_000_010_000, Price: 1, Quantity: 1},
		tick.Raw{Instrument: "BTCUSDT", TimeMillis: 1_600_000_000_000, Price: 1, Quantity: 1},
	)

	storage := db.NewMemory()
	sess, err := New(testConfig(), storage, &scriptedSource{raws: raws}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sess.Run(context.Background()))

	start := time.UnixMilli(1_700_000_000_000).UTC()
	count, err := storage.GetBarCount(context.Background(), "BTCUSDT", "1s", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestNew_ConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Same instruments", func(c *Config) { c.InstrumentY = c.InstrumentX }},
		{"Missing instrument", func(c *Config) { c.InstrumentX = "" }},
		{"Window too small", func(c *Config) { c.WindowSize = 1 }},
		{"No intervals", func(c *Config) { c.Intervals = nil }},
		{"Bad interval", func(c *Config) { c.Intervals = []string{"7m"} }},
		{"Analytics interval not aggregated", func(c *Config) { c.AnalyticsInterval = "1m" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := New(cfg, db.NewMemory(), &scriptedSource{}, nil, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}
