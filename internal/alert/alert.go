// Package alert
package alert

import (
	"fmt"
	"math"
	"time"

	"github.com/pairslab/pairscope/internal/analytics"
)

// Policy selects how threshold crossings map to alerts.
type Policy string

const (
	// PolicyEdge fires once when |z| crosses above the threshold and arms
	// again only after it drops back. This is the default: it avoids alert
	// spam while |z| stays elevated.
	PolicyEdge Policy = "edge"
	// PolicyLevel fires on every qualifying update.
	PolicyLevel Policy = "level"
)

// Alert is emitted when the pair's z-score exceeds the threshold.
type Alert struct {
	Time       time.Time `json:"time"`
	ZScore     float64   `json:"z_score"`
	Threshold  float64   `json:"threshold"`
	HedgeRatio float64   `json:"hedge_ratio"`
	Spread     float64   `json:"spread"`
}

func (a Alert) String() string {
	return fmt.Sprintf("z-score alert: |z|=%.2f exceeded threshold %.2f at %s (spread=%.6f, beta=%.4f)",
		math.Abs(a.ZScore), a.Threshold, a.Time.Format(time.RFC3339), a.Spread, a.HedgeRatio)
}

// Evaluator thresholds the latest z-score of each snapshot. Not safe for
// concurrent use; it belongs to the session's serialized analytics loop.
type Evaluator struct {
	threshold float64
	policy    Policy
	exceeded  bool
}

// NewEvaluator creates an evaluator. threshold must be positive; policy
// defaults to edge-triggered.
func NewEvaluator(threshold float64, policy Policy) *Evaluator {
	if threshold <= 0 {
		threshold = 2.0
	}
	if policy != PolicyLevel {
		policy = PolicyEdge
	}
	return &Evaluator{threshold: threshold, policy: policy}
}

// Evaluate inspects a snapshot and returns an alert when one fires.
// Snapshots with an undefined or unavailable z-score disarm nothing and
// never fire.
func (e *Evaluator) Evaluate(snap analytics.Snapshot) (Alert, bool) {
	if !snap.Ready() || snap.UndefinedZScore {
		return Alert{}, false
	}

	over := math.Abs(snap.ZScore) > e.threshold
	fired := over
	if e.policy == PolicyEdge {
		fired = over && !e.exceeded
	}
	e.exceeded = over

	if !fired {
		return Alert{}, false
	}
	return Alert{
		Time:       snap.AsOf,
		ZScore:     snap.ZScore,
		Threshold:  e.threshold,
		HedgeRatio: snap.HedgeRatio,
		Spread:     snap.Spread,
	}, true
}
