package regime

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
)

// Config holds the classification thresholds. The classifier is a
// deterministic rule cascade so regime boundaries stay auditable.
type Config struct {
	HighVolThreshold float64 `yaml:"high_vol_threshold"` // annualized, default 0.80
	LowVolThreshold  float64 `yaml:"low_vol_threshold"`  // default 0.20
	TrendThreshold   float64 `yaml:"trend_threshold"`    // default 0.30
	MomentumFlip     float64 `yaml:"momentum_flip"`      // default 0.25
	CompressionTight float64 `yaml:"compression_tight"`  // default 0.35
	ExpansionRatio   float64 `yaml:"expansion_ratio"`    // default 1.6
	Lookback         int     `yaml:"lookback"`           // samples, default 5
	ConfidenceFloor  float64 `yaml:"confidence_floor"`   // default 0.55
}

func (c *Config) applyDefaults() {
	if c.HighVolThreshold <= 0 {
		c.HighVolThreshold = 0.80
	}
	if c.LowVolThreshold <= 0 {
		c.LowVolThreshold = 0.20
	}
	if c.TrendThreshold <= 0 {
		c.TrendThreshold = 0.30
	}
	if c.MomentumFlip <= 0 {
		c.MomentumFlip = 0.25
	}
	if c.CompressionTight <= 0 {
		c.CompressionTight = 0.35
	}
	if c.ExpansionRatio <= 1 {
		c.ExpansionRatio = 1.6
	}
	if c.Lookback <= 0 {
		c.Lookback = 5
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.55
	}
}

// Classifier keeps a short per-symbol feature history for the pattern rules
// (breakout, reversal) and the latest snapshot per symbol.
type Classifier struct {
	cfg Config

	mu      sync.Mutex
	history map[string][]models.FeatureVector
	latest  map[string]models.MarketRegimeSnapshot
}

func NewClassifier(cfg Config) *Classifier {
	cfg.applyDefaults()
	return &Classifier{
		cfg:     cfg,
		history: make(map[string][]models.FeatureVector),
		latest:  make(map[string]models.MarketRegimeSnapshot),
	}
}

// Classify maps one feature vector to a regime with confidence. Identical
// input against identical history always yields an identical result.
func (c *Classifier) Classify(symbol string, f models.FeatureVector, at time.Time) (models.MarketRegimeSnapshot, error) {
	if symbol == "" {
		return models.MarketRegimeSnapshot{}, fmt.Errorf("classify: empty symbol: %w", models.ErrInvalidFeatureInput)
	}
	if err := f.Validate(); err != nil {
		return models.MarketRegimeSnapshot{}, fmt.Errorf("classify %s: %w", symbol, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hist := c.history[symbol]
	regime, conf := c.cascade(f, hist)

	// Ties below the confidence floor resolve to the lower-risk call.
	if conf < c.cfg.ConfidenceFloor && (regime == models.RegimeBullTrend || regime == models.RegimeBearTrend) {
		regime = models.RegimeSideways
	}

	snap := models.MarketRegimeSnapshot{
		Symbol:     symbol,
		Timestamp:  at,
		Regime:     regime,
		Features:   f,
		Confidence: conf,
	}

	hist = append(hist, f)
	if len(hist) > c.cfg.Lookback {
		hist = hist[len(hist)-c.cfg.Lookback:]
	}
	c.history[symbol] = hist
	c.latest[symbol] = snap
	return snap, nil
}

// Current returns the latest snapshot for a symbol, if any.
func (c *Classifier) Current(symbol string) (models.MarketRegimeSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.latest[symbol]
	return s, ok
}

// cascade applies the rule/threshold chain. Volatility gates first: risk
// sizing depends more on volatility than on direction, so volatility regimes
// take precedence over trend regimes when both conditions hold.
func (c *Classifier) cascade(f models.FeatureVector, hist []models.FeatureVector) (models.Regime, float64) {
	if f.RealizedVol >= c.cfg.HighVolThreshold {
		return models.RegimeHighVol, boundaryConfidence(f.RealizedVol, c.cfg.HighVolThreshold, c.cfg.HighVolThreshold)
	}
	if f.RealizedVol <= c.cfg.LowVolThreshold {
		return models.RegimeLowVol, boundaryConfidence(f.RealizedVol, c.cfg.LowVolThreshold, c.cfg.LowVolThreshold)
	}

	if ok, conf := c.breakout(f, hist); ok {
		return models.RegimeBreakout, conf
	}
	if ok, conf := c.reversal(f, hist); ok {
		return models.RegimeReversal, conf
	}

	switch {
	case f.TrendStrength >= c.cfg.TrendThreshold:
		return models.RegimeBullTrend, boundaryConfidence(f.TrendStrength, c.cfg.TrendThreshold, 1-c.cfg.TrendThreshold)
	case f.TrendStrength <= -c.cfg.TrendThreshold:
		return models.RegimeBearTrend, boundaryConfidence(-f.TrendStrength, c.cfg.TrendThreshold, 1-c.cfg.TrendThreshold)
	}

	if f.RangeCompression <= c.cfg.CompressionTight {
		return models.RegimeConsolidation, boundaryConfidence(c.cfg.CompressionTight-f.RangeCompression, 0, c.cfg.CompressionTight)
	}
	return models.RegimeSideways, boundaryConfidence(c.cfg.TrendThreshold-math.Abs(f.TrendStrength), 0, c.cfg.TrendThreshold)
}

// breakout fires on a compression-then-expansion pattern over the lookback:
// recent ranges were tight and the current one expanded past the ratio.
func (c *Classifier) breakout(f models.FeatureVector, hist []models.FeatureVector) (bool, float64) {
	if len(hist) < 2 {
		return false, 0
	}
	var sum float64
	for _, h := range hist {
		sum += h.RangeCompression
	}
	avg := sum / float64(len(hist))
	if avg > c.cfg.CompressionTight || avg <= 0 {
		return false, 0
	}
	ratio := f.RangeCompression / avg
	if ratio < c.cfg.ExpansionRatio || math.Abs(f.Momentum) < c.cfg.MomentumFlip {
		return false, 0
	}
	return true, boundaryConfidence(ratio, c.cfg.ExpansionRatio, c.cfg.ExpansionRatio)
}

// reversal fires on a momentum sign change after a sustained trend.
func (c *Classifier) reversal(f models.FeatureVector, hist []models.FeatureVector) (bool, float64) {
	if len(hist) < 2 {
		return false, 0
	}
	sign := 0.0
	for _, h := range hist {
		if math.Abs(h.TrendStrength) < c.cfg.TrendThreshold {
			return false, 0
		}
		s := math.Copysign(1, h.TrendStrength)
		if sign != 0 && s != sign {
			return false, 0
		}
		sign = s
	}
	if math.Copysign(1, f.Momentum) == sign || math.Abs(f.Momentum) < c.cfg.MomentumFlip {
		return false, 0
	}
	return true, boundaryConfidence(math.Abs(f.Momentum), c.cfg.MomentumFlip, 1-c.cfg.MomentumFlip)
}

// boundaryConfidence maps the distance of a value from its decision boundary
// onto [0.5, 1]: sitting on the boundary yields 0.5, a full scale away 1.0.
func boundaryConfidence(value, boundary, scale float64) float64 {
	if scale <= 0 {
		return 0.5
	}
	d := math.Abs(value-boundary) / scale
	if d > 0.5 {
		d = 0.5
	}
	return 0.5 + d
}

var _ domsvc.RegimeClassifier = (*Classifier)(nil)
