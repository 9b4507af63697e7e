package pair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairslab/pairscope/internal/bar"
)

func barAt(instrument string, second int, closePrice float64) bar.Bar {
	open := time.Date(2025, 6, 1, 12, 0, second, 0, time.UTC)
	return bar.Bar{
		Instrument: instrument,
		Interval:   "1s",
		OpenTime:   open,
		Open:       closePrice,
		High:       closePrice,
		Low:        closePrice,
		Close:      closePrice,
		Volume:     1,
		TickCount:  1,
	}
}

func TestSynchronizer_InnerJoin(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 100)

	_, matched, err := s.Push(barAt("BTCUSDT", 0, 100))
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, 0, s.Len())

	pt, matched, err := s.Push(barAt("ETHUSDT", 0, 2000))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), pt.OpenTime)
	assert.Equal(t, 100.0, pt.PriceX)
	assert.Equal(t, 2000.0, pt.PriceY)
	assert.Equal(t, 1, s.Len())
}

func TestSynchronizer_OrderIndependent(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 100)

	// Y arrives first this time; the point still reads (PriceX, PriceY).
	_, matched, err := s.Push(barAt("ETHUSDT", 3, 2100))
	require.NoError(t, err)
	assert.False(t, matched)

	pt, matched, err := s.Push(barAt("BTCUSDT", 3, 105))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, 105.0, pt.PriceX)
	assert.Equal(t, 2100.0, pt.PriceY)
}

func TestSynchronizer_UnmatchedBucketsDropped(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 100)

	// X has bars at 0,1,2; Y only at 2. Matching bucket 2 discards the
	// stale X bars at 0 and 1: both streams have advanced past them.
	for sec, price := range map[int]float64{0: 100, 1: 101, 2: 102} {
		_, _, err := s.Push(barAt("BTCUSDT", sec, price))
		require.NoError(t, err)
	}

	pt, matched, err := s.Push(barAt("ETHUSDT", 2, 2000))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, 102.0, pt.PriceX)
	assert.Equal(t, 1, s.Len())

	// A late Y bar for bucket 1 finds no X counterpart anymore.
	_, matched, err = s.Push(barAt("ETHUSDT", 1, 1990))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestSynchronizer_PendingEviction(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 2)

	for sec := 0; sec < 5; sec++ {
		_, _, err := s.Push(barAt("BTCUSDT", sec, 100+float64(sec)))
		require.NoError(t, err)
	}

	// Only the two newest X buckets survived the bounded pending buffer.
	_, matched, err := s.Push(barAt("ETHUSDT", 0, 2000))
	require.NoError(t, err)
	assert.False(t, matched)

	pt, matched, err := s.Push(barAt("ETHUSDT", 4, 2004))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, 104.0, pt.PriceX)
}

func TestSynchronizer_WindowBounded(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 3)

	for sec := 0; sec < 6; sec++ {
		_, _, err := s.Push(barAt("BTCUSDT", sec, 100+float64(sec)))
		require.NoError(t, err)
		_, matched, err := s.Push(barAt("ETHUSDT", sec, 2000+float64(sec)))
		require.NoError(t, err)
		require.True(t, matched)
	}

	assert.Equal(t, 3, s.Len())

	window := s.Window(2)
	require.Len(t, window, 2)
	assert.Equal(t, 104.0, window[0].PriceX)
	assert.Equal(t, 105.0, window[1].PriceX)

	// Asking for more than is buffered returns everything.
	assert.Len(t, s.Window(10), 3)
}

func TestSynchronizer_Rejections(t *testing.T) {
	s := NewSynchronizer("BTCUSDT", "ETHUSDT", "1s", 10)

	b := barAt("BTCUSDT", 0, 100)
	b.Interval = "1m"
	_, _, err := s.Push(b)
	assert.Error(t, err)

	_, _, err = s.Push(barAt("SOLUSDT", 0, 150))
	assert.Error(t, err)
}
