package adaptation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// StrategyConfig is the per-strategy adaptation policy: targets, speed,
// initial parameters, and parameter bounds.
type StrategyConfig struct {
	Name           string                          `yaml:"name"`
	Symbol         string                          `yaml:"symbol"`
	Speed          models.AdaptationSpeed          `yaml:"speed"`
	MinWinRate     float64                         `yaml:"min_win_rate"`
	MaxDrawdown    float64                         `yaml:"max_drawdown"`
	ReviewInterval time.Duration                   `yaml:"review_interval"`
	Parameters     models.Parameters               `yaml:"parameters"`
	Specs          map[string]models.ParameterSpec `yaml:"specs"`
}

// strategyState is per-strategy mutable control state. Everything here is
// recoverable from the adaptation log; only lastRegime/lastReview are soft.
type strategyState struct {
	mu          sync.Mutex
	state       models.ControllerState
	lastRegime  models.Regime
	lastReview  time.Time
	lastAdapted time.Time
	params      models.Parameters
	version     string
	loaded      bool
}

// Controller decides whether to change a strategy's live parameters.
// Every change is written to the adaptation log before taking effect, so a
// crash between decision and application cannot leave ambiguous state: on
// restart the most recent log entry is re-read and is authoritative.
type Controller struct {
	configs map[string]StrategyConfig
	store   domrepo.AdaptationStore
	audit   domrepo.AuditPublisher
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*strategyState
}

func NewController(
	configs []StrategyConfig,
	store domrepo.AdaptationStore,
	audit domrepo.AuditPublisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Controller {
	byName := make(map[string]StrategyConfig, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}
	return &Controller{
		configs: byName,
		store:   store,
		audit:   audit,
		metrics: metrics,
		l:       l,
		now:     time.Now,
		states:  make(map[string]*strategyState),
	}
}

// SetClock overrides the time source; used by tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// State reports the state-machine position for a strategy.
func (c *Controller) State(strategy string) models.ControllerState {
	st := c.stateFor(strategy)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state == "" {
		return models.StateStable
	}
	return st.state
}

// EffectiveParameters derives the configuration currently in force: the
// NewParameters of the most recent adaptation, or the configured initial
// parameters when the log is empty.
func (c *Controller) EffectiveParameters(ctx context.Context, strategy string) (models.Parameters, string, error) {
	cfg, ok := c.configs[strategy]
	if !ok {
		return nil, "", fmt.Errorf("unknown strategy %q", strategy)
	}
	st := c.stateFor(strategy)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := c.loadLocked(ctx, cfg, st); err != nil {
		return nil, "", err
	}
	return st.params.Clone(), st.version, nil
}

// Evaluate runs one state-machine step for a strategy. It returns the
// adaptation applied this tick, or nil when none was warranted.
func (c *Controller) Evaluate(ctx context.Context, strategy string, snap models.MarketRegimeSnapshot, summary models.PerformanceSummary) (*models.StrategyAdaptation, error) {
	cfg, ok := c.configs[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	st := c.stateFor(strategy)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := c.loadLocked(ctx, cfg, st); err != nil {
		return nil, err
	}

	now := c.now()
	reason, triggered := c.trigger(cfg, st, snap, now)
	if !triggered {
		st.state = models.StateStable
		return nil, nil
	}

	st.state = models.StateEvaluating
	st.lastRegime = snap.Regime
	st.lastReview = now

	if summary.LowConfidence {
		// Insufficient evidence; do not act.
		if c.l != nil {
			c.l.Debug("evaluation skipped",
				applogger.String("strategy", strategy),
				applogger.String("regime", string(snap.Regime)),
				applogger.Int("samples", summary.SampleCount),
				applogger.Error(models.ErrInsufficientSample),
			)
		}
		c.metrics.RecordSuppressed(strategy, "insufficient_sample")
		st.state = models.StateStable
		return nil, nil
	}

	underperforming := summary.WinRate < cfg.MinWinRate ||
		(cfg.MaxDrawdown > 0 && summary.MaxDrawdown > cfg.MaxDrawdown)
	if !underperforming {
		st.state = models.StateStable
		return nil, nil
	}
	if summary.WinRate < cfg.MinWinRate {
		reason = models.ReasonUnderperformance
	}

	st.state = models.StateAdapting
	profile := ProfileFor(cfg.Speed)
	if !st.lastAdapted.IsZero() && now.Sub(st.lastAdapted) < profile.Cooldown {
		if c.l != nil {
			c.l.Warn("adaptation_suppressed_cooldown",
				applogger.String("strategy", strategy),
				applogger.String("regime", string(snap.Regime)),
				applogger.Duration("since_last_ms", now.Sub(st.lastAdapted)),
				applogger.Duration("cooldown_ms", profile.Cooldown),
			)
		}
		c.metrics.RecordSuppressed(strategy, "cooldown")
		st.state = models.StateStable
		return nil, nil
	}

	newParams, changed := c.propose(cfg, st.params, profile, strategy)
	if !changed {
		// Already pinned at bounds; nothing left to move.
		c.metrics.RecordSuppressed(strategy, "at_bounds")
		st.state = models.StateStable
		return nil, nil
	}

	adapt := models.StrategyAdaptation{
		ID:                 uuid.New().String(),
		Timestamp:          now,
		StrategyName:       strategy,
		PreviousParameters: st.params.Clone(),
		NewParameters:      newParams,
		Regime:             snap.Regime,
		Features:           snap.Features,
		PerformanceBefore:  summary,
		Reason:             reason,
		Confidence:         snap.Confidence,
	}

	// Write-then-apply: the record must be durable before the parameters
	// take effect.
	if err := c.store.Append(ctx, adapt); err != nil {
		c.metrics.RecordError("adaptation_append")
		st.state = models.StateStable
		return nil, fmt.Errorf("append adaptation %s: %w", strategy, err)
	}

	st.params = newParams.Clone()
	st.version = adapt.ID
	st.lastAdapted = now
	st.state = models.StateStable

	c.metrics.RecordAdaptation(strategy, string(reason))
	if c.l != nil {
		c.l.Info("adaptation applied",
			applogger.String("strategy", strategy),
			applogger.String("regime", string(snap.Regime)),
			applogger.String("reason", string(reason)),
			applogger.String("version", adapt.ID),
		)
	}
	if c.audit != nil {
		if err := c.audit.PublishAdaptation(ctx, adapt); err != nil {
			// Audit stream is best-effort; the log entry is the source of truth.
			c.metrics.RecordError("audit_publish")
			if c.l != nil {
				c.l.Warn("audit publish failed", applogger.Error(err))
			}
		}
	}
	return &adapt, nil
}

// trigger decides whether this tick enters EVALUATING and with what reason.
func (c *Controller) trigger(cfg StrategyConfig, st *strategyState, snap models.MarketRegimeSnapshot, now time.Time) (models.AdaptationReason, bool) {
	if snap.Regime != "" && snap.Regime != st.lastRegime {
		return models.ReasonRegimeShift, true
	}
	review := cfg.ReviewInterval
	if review <= 0 {
		review = 4 * time.Hour
	}
	if st.lastReview.IsZero() || now.Sub(st.lastReview) >= review {
		return models.ReasonScheduledReview, true
	}
	return "", false
}

// propose moves exactly one risk-relevant parameter toward its minimum by
// the speed-profile step, clamped to the configured bounds and capped at the
// parameter's max step. Bounds are never widened.
func (c *Controller) propose(cfg StrategyConfig, cur models.Parameters, profile SpeedProfile, strategy string) (models.Parameters, bool) {
	names := make([]string, 0, len(cfg.Specs))
	for name, spec := range cfg.Specs {
		if spec.RiskRelevant {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := cur.Clone()
	for _, name := range names {
		spec := cfg.Specs[name]
		val, ok := out[name]
		if !ok {
			continue
		}
		step := profile.Step * spec.Range()
		if spec.MaxStep > 0 && step > spec.MaxStep {
			step = spec.MaxStep
		}
		proposed := val - step
		if proposed < spec.Min {
			if c.l != nil {
				c.l.Warn("adaptation bounds violation, clamped",
					applogger.String("strategy", strategy),
					applogger.String("parameter", name),
					applogger.Any("proposed", proposed),
					applogger.Any("min", spec.Min),
					applogger.Error(models.ErrAdaptationBounds),
				)
			}
			c.metrics.RecordError("adaptation_bounds")
			proposed = spec.Min
		}
		if proposed == val {
			continue
		}
		out[name] = proposed
		return out, true
	}
	return out, false
}

// loadLocked restores state from the adaptation log on first touch.
func (c *Controller) loadLocked(ctx context.Context, cfg StrategyConfig, st *strategyState) error {
	if st.loaded {
		return nil
	}
	latest, found, err := c.store.Latest(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("load latest adaptation %s: %w", cfg.Name, err)
	}
	if found {
		st.params = latest.NewParameters.Clone()
		st.version = latest.ID
		st.lastAdapted = latest.Timestamp
		st.lastRegime = latest.Regime
	} else {
		st.params = cfg.Parameters.Clone()
	}
	st.state = models.StateStable
	st.loaded = true
	return nil
}

func (c *Controller) stateFor(strategy string) *strategyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[strategy]
	if !ok {
		st = &strategyState{state: models.StateStable}
		c.states[strategy] = st
	}
	return st
}

var _ domsvc.AdaptationController = (*Controller)(nil)
