package analytics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrADFSampleTooSmall is returned when the series is too short to fit the
// test regression.
var ErrADFSampleTooSmall = errors.New("adf: sample too small")

// ADFTest runs an Augmented Dickey-Fuller unit-root test with a constant
// term on the series and returns the test statistic and MacKinnon
// approximate p-value. A low p-value is evidence the series is stationary
// (mean-reverting).
//
// The regression is
//
//	Δy_t = α + γ·y_{t-1} + Σ φ_i·Δy_{t-i} + ε_t
//
// with the lag order chosen by AIC up to Schwert's 12·(n/100)^¼ bound, and
// the statistic is the t-ratio of γ.
func ADFTest(series []float64) (adfStat, pvalue float64, err error) {
	n := len(series)
	if n < 6 {
		return 0, 0, ErrADFSampleTooSmall
	}

	diffs := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diffs[i-1] = series[i] - series[i-1]
	}
	nobs := len(diffs)

	maxLag := int(math.Ceil(12.0 * math.Pow(float64(n)/100.0, 0.25)))
	// Keep enough observations to estimate the largest model.
	if bound := nobs/2 - 2; maxLag > bound {
		maxLag = bound
	}
	if maxLag < 0 {
		maxLag = 0
	}

	// Choose the lag order by AIC over a common sample, then refit with the
	// full usable sample at the chosen order.
	bestLag, bestAIC := 0, math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		_, _, ssr, nused, fitErr := adfFit(series, diffs, lag, maxLag)
		if fitErr != nil {
			continue
		}
		k := float64(lag + 2) // gamma, constant, and lag coefficients
		aic := float64(nused)*math.Log(ssr/float64(nused)) + 2*k
		if aic < bestAIC {
			bestAIC, bestLag = aic, lag
		}
	}
	if math.IsInf(bestAIC, 1) {
		return 0, 0, fmt.Errorf("adf: no lag order could be fit")
	}

	gamma, gammaSE, _, _, err := adfFit(series, diffs, bestLag, bestLag)
	if err != nil {
		return 0, 0, err
	}
	if gammaSE == 0 || math.IsNaN(gammaSE) {
		return 0, 0, fmt.Errorf("adf: degenerate regression")
	}

	adfStat = gamma / gammaSE
	return adfStat, mackinnonP(adfStat), nil
}

// adfFit fits the ADF regression with the given lag order, starting the
// sample after startLag differences so models with different lags can share
// a common sample during selection. It returns the y_{t-1} coefficient, its
// standard error, the residual sum of squares, and the observation count.
func adfFit(series, diffs []float64, lag, startLag int) (gamma, gammaSE, ssr float64, nused int, err error) {
	start := startLag // index into diffs; diffs[t] = y[t+1]-y[t]
	nused = len(diffs) - start
	ncols := lag + 2
	if nused <= ncols {
		return 0, 0, 0, 0, ErrADFSampleTooSmall
	}

	X := mat.NewDense(nused, ncols, nil)
	y := mat.NewVecDense(nused, nil)
	for i := 0; i < nused; i++ {
		t := start + i
		y.SetVec(i, diffs[t])
		X.Set(i, 0, series[t]) // y_{t-1} in levels
		X.Set(i, 1, 1.0)
		for j := 1; j <= lag; j++ {
			X.Set(i, 1+j, diffs[t-j])
		}
	}

	var qr mat.QR
	qr.Factorize(X)
	coef := mat.NewDense(ncols, 1, nil)
	if err := qr.SolveTo(coef, false, y); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("adf: solve failed: %w", err)
	}

	var fitted mat.Dense
	fitted.Mul(X, coef)
	for i := 0; i < nused; i++ {
		r := y.AtVec(i) - fitted.At(i, 0)
		ssr += r * r
	}

	var xtx, xtxInv mat.Dense
	xtx.Mul(X.T(), X)
	if err := xtxInv.Inverse(&xtx); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("adf: singular design matrix: %w", err)
	}

	sigma2 := ssr / float64(nused-ncols)
	gamma = coef.At(0, 0)
	gammaSE = math.Sqrt(sigma2 * xtxInv.At(0, 0))
	return gamma, gammaSE, ssr, nused, nil
}

// MacKinnon (1994) approximate asymptotic p-value for the constant-only
// Dickey-Fuller distribution (single series, no trend).
var (
	adfTauMax  = 2.74
	adfTauMin  = -18.83
	adfTauStar = -1.61
	adfSmallPs = []float64{2.1659, 1.4412, 0.038269}
	adfLargePs = []float64{1.7339, 0.93202, -0.15862, -0.021711}
	adfStdNorm = distuv.Normal{Mu: 0, Sigma: 1}
)

func mackinnonP(stat float64) float64 {
	switch {
	case stat > adfTauMax:
		return 1.0
	case stat < adfTauMin:
		return 0.0
	}
	coeffs := adfLargePs
	if stat <= adfTauStar {
		coeffs = adfSmallPs
	}
	v := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*stat + coeffs[i]
	}
	return adfStdNorm.CDF(v)
}
