package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairslab/pairscope/internal/pair"
)

func alignedSeries(n int, prices func(i int) (x, y float64)) []pair.AlignedPoint {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	points := make([]pair.AlignedPoint, n)
	for i := 0; i < n; i++ {
		x, y := prices(i)
		points[i] = pair.AlignedPoint{
			OpenTime: base.Add(time.Duration(i) * time.Second),
			PriceX:   x,
			PriceY:   y,
		}
	}
	return points
}

func TestEngine_RecoversHedgeRatio(t *testing.T) {
	// price_X = 2 + 3*price_Y with a vanishing perturbation: the fit must
	// recover beta ~ 3 and alpha ~ 2.
	points := alignedSeries(50, func(i int) (float64, float64) {
		y := 100 + 5*math.Sin(float64(i)*0.7)
		x := 2 + 3*y + 1e-6*math.Sin(float64(i)*2.3)
		return x, y
	})

	snap := NewEngine(50, 20).Update(points)
	require.True(t, snap.Ready())
	assert.InDelta(t, 3.0, snap.HedgeRatio, 1e-4)
	assert.InDelta(t, 2.0, snap.Intercept, 1e-2)
	assert.InDelta(t, 1.0, snap.Correlation, 1e-6)
	assert.False(t, snap.UndefinedZScore)
	assert.Equal(t, 50, snap.SampleCount)
	assert.Equal(t, points[49].OpenTime, snap.AsOf)
}

func TestEngine_ConstantSpread(t *testing.T) {
	// An exact linear relation leaves a constant spread: the z-score is
	// undefined rather than NaN, and the snapshot stays Ready.
	points := alignedSeries(30, func(i int) (float64, float64) {
		y := 100 + 5*math.Sin(float64(i)*0.7)
		return 2 + 3*y, y
	})

	snap := NewEngine(30, 20).Update(points)
	require.True(t, snap.Ready())
	assert.True(t, snap.UndefinedZScore)
	assert.Equal(t, 0.0, snap.ZScore)
	assert.InDelta(t, 0.0, snap.ResidualStd, 1e-9)
	assert.False(t, math.IsNaN(snap.Spread))
	assert.True(t, snap.ADFUnavailable)
}

func TestEngine_InsufficientData(t *testing.T) {
	points := alignedSeries(15, func(i int) (float64, float64) {
		return 100 + float64(i), 50 + float64(i)
	})

	snap := NewEngine(20, 20).Update(points)
	assert.True(t, snap.InsufficientData)
	assert.True(t, snap.ADFUnavailable)
	assert.False(t, snap.Ready())
	assert.Equal(t, 15, snap.SampleCount)
	assert.Equal(t, 0.0, snap.HedgeRatio)
}

func TestEngine_DegenerateRegression(t *testing.T) {
	points := alignedSeries(20, func(i int) (float64, float64) {
		return 100 + float64(i), 50 // constant Y has no slope
	})

	snap := NewEngine(20, 20).Update(points)
	assert.True(t, snap.DegenerateRegression)
	assert.True(t, snap.ADFUnavailable)
	assert.False(t, snap.Ready())
}

func TestEngine_ADFAvailability(t *testing.T) {
	gen := func(i int) (float64, float64) {
		y := 100 + 5*math.Sin(float64(i)*0.7)
		x := 2 + 3*y + 0.5*math.Sin(float64(i)*2.3+1)
		return x, y
	}

	t.Run("Enough samples", func(t *testing.T) {
		snap := NewEngine(20, 20).Update(alignedSeries(25, gen))
		require.True(t, snap.Ready())
		assert.False(t, snap.ADFUnavailable)
		assert.GreaterOrEqual(t, snap.ADFPValue, 0.0)
		assert.LessOrEqual(t, snap.ADFPValue, 1.0)
	})

	t.Run("Below window", func(t *testing.T) {
		snap := NewEngine(20, 20).Update(alignedSeries(15, gen))
		assert.True(t, snap.InsufficientData)
		assert.True(t, snap.ADFUnavailable)
	})

	t.Run("Window shorter than ADF minimum", func(t *testing.T) {
		snap := NewEngine(10, 20).Update(alignedSeries(25, gen))
		require.True(t, snap.Ready())
		assert.True(t, snap.ADFUnavailable)
	})
}

func TestEngine_ZScoreSign(t *testing.T) {
	// A final point far above the fitted relation pushes the spread above
	// its window mean.
	points := alignedSeries(30, func(i int) (float64, float64) {
		y := 100 + 5*math.Sin(float64(i)*0.7)
		x := 2 + 3*y + 0.2*math.Sin(float64(i)*2.3)
		if i == 29 {
			x += 10
		}
		return x, y
	})

	snap := NewEngine(30, 20).Update(points)
	require.True(t, snap.Ready())
	require.False(t, snap.UndefinedZScore)
	assert.Greater(t, snap.ZScore, 1.0)
}

func TestEngine_WindowFloor(t *testing.T) {
	e := NewEngine(0, 0)
	points := alignedSeries(5, func(i int) (float64, float64) {
		return 100 + float64(i), 50 + 2*float64(i)
	})
	snap := e.Update(points)
	assert.Equal(t, 2, snap.WindowSize)
	assert.True(t, snap.Ready())
}
