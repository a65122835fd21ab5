// Package detector implements the statistical anomaly detectors and the
// coordinator that runs them against a market's snapshot history.
//
// Detectors are pure: they read only their arguments and never touch the
// store. Scores lie in [0, 100]; a result that is not detected scores 0.
package detector

import "github.com/alanyoungcy/polygraph/internal/domain"

// Result is the outcome of one detector evaluation.
type Result struct {
	Detected bool
	Kind     domain.SignalKind
	Score    float64
	Detail   domain.SignalDetail
}

// Reasons reported in detail payloads when a detector cannot evaluate.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonNoLiquidity      = "no_liquidity"
	ReasonNoHistory        = "no_historical_data"
)

// clamp01 bounds x to [0, 1].
func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// band maps a normalized strength into [base, base+span].
func band(normalized, span, base float64) float64 {
	return clamp01(normalized)*span + base
}
