package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// Config tunes the rule set.
type Config struct {
	PreBuffer            time.Duration `yaml:"pre_buffer"`            // before event, default 15m
	PostBuffer           time.Duration `yaml:"post_buffer"`           // after event window, default 0
	CalendarHorizon      time.Duration `yaml:"calendar_horizon"`      // default 24h
	MetricWindow         time.Duration `yaml:"metric_window"`         // metric-rule activation length, default 30m
	DrawdownEmergencyPct float64       `yaml:"drawdown_emergency_pct"` // default 0.10
	LossStreakHalt       int           `yaml:"loss_streak_halt"`      // default 6
	VolMonitorThreshold  float64       `yaml:"vol_monitor_threshold"` // default 1.5
	ReduceFraction       float64       `yaml:"reduce_fraction"`       // exposure cap under REDUCE_EXPOSURE, default 0.5
	StoreTimeout         time.Duration `yaml:"store_timeout"`         // default 5s
}

func (c *Config) applyDefaults() {
	if c.PreBuffer <= 0 {
		c.PreBuffer = 15 * time.Minute
	}
	if c.CalendarHorizon <= 0 {
		c.CalendarHorizon = 24 * time.Hour
	}
	if c.MetricWindow <= 0 {
		c.MetricWindow = 30 * time.Minute
	}
	if c.DrawdownEmergencyPct <= 0 {
		c.DrawdownEmergencyPct = 0.10
	}
	if c.LossStreakHalt <= 0 {
		c.LossStreakHalt = 6
	}
	if c.VolMonitorThreshold <= 0 {
		c.VolMonitorThreshold = 1.5
	}
	if c.ReduceFraction <= 0 || c.ReduceFraction > 1 {
		c.ReduceFraction = 0.5
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// Engine evaluates the fixed rule set against the events calendar and live
// risk metrics and emits SafetyActivation records. It is consulted last on
// each tick and its effective action supersedes the adaptation output.
type Engine struct {
	cfg      Config
	rules    []Rule
	store    domrepo.ActivationStore
	calendar domrepo.Calendar
	risk     domrepo.RiskMetrics
	audit    domrepo.AuditPublisher
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

func NewEngine(
	cfg Config,
	store domrepo.ActivationStore,
	calendar domrepo.Calendar,
	risk domrepo.RiskMetrics,
	audit domrepo.AuditPublisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		rules:    DefaultRules(cfg),
		store:    store,
		calendar: calendar,
		risk:     risk,
		audit:    audit,
		metrics:  metrics,
		l:        l,
		now:      time.Now,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source; used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ReduceFraction reports the position-size cap applied under
// REDUCE_EXPOSURE; composed multiplicatively on top of the
// adaptation-derived size.
func (e *Engine) ReduceFraction() float64 { return e.cfg.ReduceFraction }

// Evaluate runs every rule against a fresh input snapshot. Rules are not
// short-circuited: every matching rule persists its own activation so the
// audit trail captures all triggers even when one dominates. Activations
// already active for the same (rule, event) pair are not re-appended.
func (e *Engine) Evaluate(ctx context.Context, strategy, symbol string, at time.Time) ([]models.SafetyActivation, error) {
	lock := e.keyLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	in := e.buildInput(ctx, strategy, symbol, at)

	existing := e.activeSet(ctx, symbol, strategy, at)

	var applied []models.SafetyActivation
	var errs []error
	for _, rule := range e.rules {
		for _, act := range rule.Evaluate(in) {
			key := act.RuleName + "|" + act.TriggeringEventID
			if act.TriggeringEventID == "" {
				// Metric rules refresh rather than duplicate.
				key = act.RuleName
			}
			if _, ok := existing[key]; ok {
				continue
			}
			act.ID = uuid.New().String()

			opCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
			err := e.store.Append(opCtx, act)
			cancel()
			if err != nil {
				// A failed write must not suppress the remaining rules; each
				// one decides independently.
				e.metrics.RecordError("activation_append")
				errs = append(errs, fmt.Errorf("append activation %s: %w", act.RuleName, err))
				continue
			}
			existing[key] = struct{}{}
			applied = append(applied, act)

			e.metrics.RecordActivation(act.RuleName, string(act.Action))
			if e.l != nil {
				e.l.Warn("safety activation",
					applogger.String("rule", act.RuleName),
					applogger.String("action", string(act.Action)),
					applogger.String("symbol", act.Symbol),
					applogger.String("strategy", act.StrategyName),
					applogger.String("reason", act.Reason),
				)
			}
			if e.audit != nil {
				if err := e.audit.PublishActivation(ctx, act); err != nil {
					e.metrics.RecordError("audit_publish")
					if e.l != nil {
						e.l.Warn("audit publish failed", applogger.Error(err))
					}
				}
			}
		}
	}
	return applied, errors.Join(errs...)
}

// EffectiveAction returns the maximum-restrictiveness action among
// currently-active activations for a symbol or strategy; expired activations
// are excluded but never deleted.
func (e *Engine) EffectiveAction(ctx context.Context, key string, at time.Time) (models.SafetyAction, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	active, err := e.store.ActiveAt(opCtx, key, at)
	if err != nil {
		return models.ActionNone, fmt.Errorf("active activations %s: %w", key, err)
	}
	action := models.ActionNone
	for _, a := range active {
		action = models.MoreRestrictive(action, a.Action)
	}
	e.metrics.RecordEffectiveAction(key, action.Restrictiveness())
	return action, nil
}

// buildInput assembles the shared read-only snapshot. A stale calendar keeps
// the last refreshed events in effect; unavailable risk metrics are passed
// through flagged so rules can default conservatively.
func (e *Engine) buildInput(ctx context.Context, strategy, symbol string, at time.Time) RuleInput {
	in := RuleInput{Now: at, Symbol: symbol, Strategy: strategy}

	calCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	events, err := e.calendar.Upcoming(calCtx, e.cfg.CalendarHorizon)
	cancel()
	if err != nil {
		e.metrics.RecordError("calendar_fetch")
		if e.l != nil {
			e.l.Warn("calendar fetch failed, using last known events", applogger.Error(err))
		}
	}
	in.Events = events
	in.CalendarStale = e.calendar.Stale()
	e.metrics.SetCalendarStale(in.CalendarStale)

	riskCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	risk, err := e.risk.Snapshot(riskCtx, strategy, symbol)
	cancel()
	if err != nil {
		e.metrics.RecordError("risk_fetch")
		risk = models.RiskSnapshot{StrategyName: strategy, Symbol: symbol, Timestamp: at, Available: false}
	}
	in.Risk = risk
	return in
}

// activeSet loads currently-active activations for dedup across ticks.
func (e *Engine) activeSet(ctx context.Context, symbol, strategy string, at time.Time) map[string]struct{} {
	set := make(map[string]struct{})
	for _, key := range []string{symbol, strategy} {
		if key == "" {
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
		active, err := e.store.ActiveAt(opCtx, key, at)
		cancel()
		if err != nil {
			e.metrics.RecordError("activation_query")
			continue
		}
		for _, a := range active {
			if a.TriggeringEventID != "" {
				set[a.RuleName+"|"+a.TriggeringEventID] = struct{}{}
			} else {
				set[a.RuleName] = struct{}{}
			}
		}
	}
	return set
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.keyLocks[key] = l
	}
	return l
}

var _ domsvc.SafetyEngine = (*Engine)(nil)
