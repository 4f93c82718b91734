package repository

import (
	"context"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

// SnapshotStore persists regime classification results. Append-only;
// retention is enforced by the storage layer (table TTL).
type SnapshotStore interface {
	Append(ctx context.Context, s models.MarketRegimeSnapshot) error
	Latest(ctx context.Context, symbol string) (models.MarketRegimeSnapshot, error)
	Range(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketRegimeSnapshot, error)
	Health(ctx context.Context) error
}

// OutcomeStore persists closed-trade reports. Append-only; Insert must fail
// with models.ErrDuplicateTrade on a repeated id.
type OutcomeStore interface {
	Insert(ctx context.Context, t models.TradeOutcome) error
	Exists(ctx context.Context, id string) (bool, error)
	Window(ctx context.Context, strategy string, regime models.Regime, from, to time.Time) ([]models.TradeOutcome, error)
}

// AdaptationStore persists the parameter-change log. The latest entry per
// strategy is authoritative for effective parameters.
type AdaptationStore interface {
	Append(ctx context.Context, a models.StrategyAdaptation) error
	Latest(ctx context.Context, strategy string) (models.StrategyAdaptation, bool, error)
	History(ctx context.Context, strategy string, limit int) ([]models.StrategyAdaptation, error)
}

// ActivationStore persists safety activations. Rows are never deleted;
// ActiveAt filters by window for the effective-action computation.
type ActivationStore interface {
	Append(ctx context.Context, a models.SafetyActivation) error
	ActiveAt(ctx context.Context, key string, at time.Time) ([]models.SafetyActivation, error)
	History(ctx context.Context, key string, limit int) ([]models.SafetyActivation, error)
}

// Calendar exposes the externally curated economic-event feed. Upcoming must
// keep serving the last refreshed events when the collaborator is down and
// report staleness via Stale.
type Calendar interface {
	Upcoming(ctx context.Context, horizon time.Duration) ([]models.EconomicEvent, error)
	Stale() bool
}

// RiskMetrics supplies live drawdown/exposure figures per strategy and symbol.
type RiskMetrics interface {
	Snapshot(ctx context.Context, strategy, symbol string) (models.RiskSnapshot, error)
}

// FeatureStream delivers market feature vectors per symbol.
type FeatureStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.FeatureSample, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// AuditPublisher emits the append-only audit stream of adaptation and
// activation records for logging/alerting collaborators.
type AuditPublisher interface {
	PublishAdaptation(ctx context.Context, a models.StrategyAdaptation) error
	PublishActivation(ctx context.Context, a models.SafetyActivation) error
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// Metrics records operational counters for the engine.
type Metrics interface {
	RecordTick(strategy, result string)
	RecordAdaptation(strategy string, reason string)
	RecordSuppressed(strategy, cause string)
	RecordActivation(rule string, action string)
	RecordEffectiveAction(key string, restrictiveness int)
	RecordRegime(symbol string, regime string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetCalendarStale(stale bool)
}
