package models

import (
	"math"
	"time"
)

// Regime is a discrete classification of current market behavior.
type Regime string

const (
	RegimeBullTrend     Regime = "BULL_TREND"
	RegimeBearTrend     Regime = "BEAR_TREND"
	RegimeSideways      Regime = "SIDEWAYS"
	RegimeHighVol       Regime = "HIGH_VOLATILITY"
	RegimeLowVol        Regime = "LOW_VOLATILITY"
	RegimeBreakout      Regime = "BREAKOUT"
	RegimeReversal      Regime = "REVERSAL"
	RegimeConsolidation Regime = "CONSOLIDATION"
)

// Valid reports whether r is one of the eight known regimes.
func (r Regime) Valid() bool {
	switch r {
	case RegimeBullTrend, RegimeBearTrend, RegimeSideways, RegimeHighVol,
		RegimeLowVol, RegimeBreakout, RegimeReversal, RegimeConsolidation:
		return true
	}
	return false
}

// FeatureVector carries the pre-computed market features the classifier
// consumes. Units: TrendStrength and Momentum are signed and normalized to
// roughly [-1, 1]; RealizedVol is annualized; RangeCompression is a ratio
// in [0, 1] where lower means tighter range.
type FeatureVector struct {
	TrendStrength    float64 `json:"trend_strength"`
	RealizedVol      float64 `json:"realized_vol"`
	RangeCompression float64 `json:"range_compression"`
	Momentum         float64 `json:"momentum"`
}

// Validate rejects NaN/Inf values; a malformed vector must never classify.
func (f FeatureVector) Validate() error {
	for _, v := range []float64{f.TrendStrength, f.RealizedVol, f.RangeCompression, f.Momentum} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidFeatureInput
		}
	}
	if f.RealizedVol < 0 {
		return ErrInvalidFeatureInput
	}
	return nil
}

// FeatureSample is one feature-stream frame for a symbol.
type FeatureSample struct {
	Symbol    string        `json:"symbol"`
	Timestamp time.Time     `json:"timestamp"`
	Features  FeatureVector `json:"features"`
}

// MarketRegimeSnapshot is one immutable classification result.
type MarketRegimeSnapshot struct {
	Symbol     string        `json:"symbol"`
	Timestamp  time.Time     `json:"timestamp"`
	Regime     Regime        `json:"regime"`
	Features   FeatureVector `json:"features"`
	Confidence float64       `json:"confidence"`
}
