package models

import "time"

// TradeOutcome is an immutable record of a completed trade, reported by the
// execution collaborator after the position is closed.
type TradeOutcome struct {
	ID                string        `json:"id"`
	TimestampClosed   time.Time     `json:"timestamp_closed"`
	Symbol            string        `json:"symbol"`
	StrategyName      string        `json:"strategy_name"`
	EntryPrice        float64       `json:"entry_price"`
	ExitPrice         float64       `json:"exit_price"`
	Quantity          float64       `json:"quantity"`
	PnL               float64       `json:"pnl"`
	Duration          time.Duration `json:"duration"`
	RegimeAtEntry     Regime        `json:"regime_at_entry"`
	VolatilityAtEntry float64       `json:"volatility_at_entry"`
	ConfidenceAtEntry float64       `json:"confidence_at_entry"`
	AdaptationVersion string        `json:"adaptation_version"`
}

// PerformanceSummary aggregates outcomes for one (strategy, regime) pair
// over a rolling window anchored at To.
type PerformanceSummary struct {
	StrategyName  string        `json:"strategy_name"`
	Regime        Regime        `json:"regime"`
	Window        time.Duration `json:"window"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	WinRate       float64       `json:"win_rate"`
	AvgPnL        float64       `json:"avg_pnl"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	SampleCount   int           `json:"sample_count"`
	LowConfidence bool          `json:"low_confidence"`
}

// Empty reports whether the window contained no trades at all.
func (s PerformanceSummary) Empty() bool { return s.SampleCount == 0 }
