// Package analytics computes pairs-trading statistics over an aligned price
// series: OLS hedge ratio, spread, rolling z-score, rolling correlation, and
// an ADF stationarity test.
package analytics

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pairslab/pairscope/internal/pair"
)

// Snapshot is the result of one analytics update. Fields whose inputs are
// not yet available are left zero and flagged via the sentinel booleans;
// NaN never leaks to consumers.
type Snapshot struct {
	AsOf        time.Time `json:"as_of"`
	WindowSize  int       `json:"window_size"`
	SampleCount int       `json:"sample_count"`

	HedgeRatio  float64 `json:"hedge_ratio"`
	Intercept   float64 `json:"intercept"`
	ResidualStd float64 `json:"residual_std"`
	Spread      float64 `json:"spread"`
	ZScore      float64 `json:"z_score"`
	Correlation float64 `json:"correlation"`

	ADFStatistic float64 `json:"adf_statistic"`
	ADFPValue    float64 `json:"adf_p_value"`

	InsufficientData     bool `json:"insufficient_data"`
	DegenerateRegression bool `json:"degenerate_regression"`
	UndefinedZScore      bool `json:"undefined_z_score"`
	ADFUnavailable       bool `json:"adf_unavailable"`
}

// Ready reports whether the regression-derived fields are defined.
func (s *Snapshot) Ready() bool {
	return !s.InsufficientData && !s.DegenerateRegression
}

// Engine recomputes the full snapshot from scratch on every update: a
// fixed-window batch re-fit, not an online regression. It holds no state
// beyond its configuration, so a single engine serves concurrent sessions as
// long as each passes its own window copy.
type Engine struct {
	windowSize    int
	minADFSamples int
}

// NewEngine creates an analytics engine. windowSize must be at least 2;
// minADFSamples is the minimum spread length for the ADF test (typically 20).
func NewEngine(windowSize, minADFSamples int) *Engine {
	if windowSize < 2 {
		windowSize = 2
	}
	if minADFSamples < 3 {
		minADFSamples = 3
	}
	return &Engine{windowSize: windowSize, minADFSamples: minADFSamples}
}

// Update computes a snapshot from the trailing window of aligned points.
// The caller passes a consistent copy of the series (see pair.Window); the
// engine never mutates it.
func (e *Engine) Update(points []pair.AlignedPoint) Snapshot {
	snap := Snapshot{
		WindowSize:  e.windowSize,
		SampleCount: len(points),
	}
	if len(points) > 0 {
		snap.AsOf = points[len(points)-1].OpenTime
	}

	if len(points) < e.windowSize {
		snap.InsufficientData = true
		snap.ADFUnavailable = true
		return snap
	}

	window := points[len(points)-e.windowSize:]
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, p := range window {
		xs[i] = p.PriceX
		ys[i] = p.PriceY
	}

	// Hedge ratio: OLS of X on Y. A constant regressor has no slope.
	if stat.Variance(ys, nil) == 0 {
		snap.DegenerateRegression = true
		snap.ADFUnavailable = true
		return snap
	}
	alpha, beta := stat.LinearRegression(ys, xs, nil, false)
	snap.Intercept = alpha
	snap.HedgeRatio = beta

	spread := make([]float64, len(window))
	residuals := make([]float64, len(window))
	for i := range window {
		spread[i] = xs[i] - beta*ys[i]
		residuals[i] = xs[i] - alpha - beta*ys[i]
	}
	snap.Spread = spread[len(spread)-1]
	snap.ResidualStd = stat.StdDev(residuals, nil)

	mean := stat.Mean(spread, nil)
	std := stat.StdDev(spread, nil)
	if std == 0 {
		snap.UndefinedZScore = true
	} else {
		snap.ZScore = (snap.Spread - mean) / std
	}

	snap.Correlation = stat.Correlation(xs, ys, nil)

	if len(spread) < e.minADFSamples {
		snap.ADFUnavailable = true
		return snap
	}
	adfStat, pvalue, err := ADFTest(spread)
	if err != nil {
		snap.ADFUnavailable = true
		return snap
	}
	snap.ADFStatistic = adfStat
	snap.ADFPValue = pvalue

	return snap
}
