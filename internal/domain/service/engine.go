package service

import (
	"context"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

// RegimeClassifier maps a feature vector to a regime with confidence.
// Classification is pure and synchronous; a malformed vector fails with
// models.ErrInvalidFeatureInput and the caller reuses the previous snapshot.
type RegimeClassifier interface {
	Classify(symbol string, f models.FeatureVector, at time.Time) (models.MarketRegimeSnapshot, error)
	Current(symbol string) (models.MarketRegimeSnapshot, bool)
}

// PerformanceTracker ingests trade outcomes and answers rolling-window
// queries keyed by (strategy, regime).
type PerformanceTracker interface {
	Record(ctx context.Context, t models.TradeOutcome) error
	Summarize(ctx context.Context, strategy string, regime models.Regime, window time.Duration) (models.PerformanceSummary, error)
}

// AdaptationController decides whether to change a strategy's live
// parameters. Evaluate returns the applied adaptation, or nil when no change
// was warranted (insufficient evidence, within targets, or cooldown).
type AdaptationController interface {
	Evaluate(ctx context.Context, strategy string, snap models.MarketRegimeSnapshot, summary models.PerformanceSummary) (*models.StrategyAdaptation, error)
	EffectiveParameters(ctx context.Context, strategy string) (models.Parameters, string, error)
	State(strategy string) models.ControllerState
}

// SafetyEngine evaluates the rule set and answers effective-action queries.
type SafetyEngine interface {
	Evaluate(ctx context.Context, strategy, symbol string, at time.Time) ([]models.SafetyActivation, error)
	EffectiveAction(ctx context.Context, key string, at time.Time) (models.SafetyAction, error)
}
