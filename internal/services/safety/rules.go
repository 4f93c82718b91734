package safety

import (
	"fmt"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

// RuleInput is the shared read-only snapshot rules evaluate against.
type RuleInput struct {
	Now           time.Time
	Symbol        string
	Strategy      string
	Events        []models.EconomicEvent
	Risk          models.RiskSnapshot
	CalendarStale bool
}

// Rule is one independent pure predicate over the input snapshot. Rules are
// all evaluated every tick, never short-circuited, so adding a rule never
// requires reordering existing ones. Returned activations carry no ID; the
// engine assigns ids and persists.
type Rule interface {
	Name() string
	Evaluate(in RuleInput) []models.SafetyActivation
}

// DefaultRules builds the fixed rule set.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		&eventProximityRule{
			name:        "critical_event_blackout",
			minSeverity: models.SeverityCritical,
			action:      models.ActionBlackout,
			pre:         cfg.PreBuffer,
			post:        cfg.PostBuffer,
		},
		&eventProximityRule{
			name:        "high_severity_reduce",
			minSeverity: models.SeverityHigh,
			maxSeverity: models.SeverityHigh,
			action:      models.ActionReduceExposure,
			pre:         cfg.PreBuffer,
			post:        cfg.PostBuffer,
		},
		&drawdownEmergencyRule{threshold: cfg.DrawdownEmergencyPct, window: cfg.MetricWindow},
		&lossStreakHaltRule{threshold: cfg.LossStreakHalt, window: cfg.MetricWindow},
		&volSpikeMonitorRule{threshold: cfg.VolMonitorThreshold, window: cfg.MetricWindow},
	}
}

// eventProximityRule triggers when the tick falls inside the blackout window
// of a matching calendar event: pre buffer before the scheduled time through
// the event duration plus the post buffer. The severity band keeps tiers
// disjoint; a critical event belongs to the blackout rule alone.
type eventProximityRule struct {
	name        string
	minSeverity models.EventSeverity
	maxSeverity models.EventSeverity // zero value means unbounded
	action      models.SafetyAction
	pre         time.Duration
	post        time.Duration
}

func (r *eventProximityRule) Name() string { return r.name }

func (r *eventProximityRule) Evaluate(in RuleInput) []models.SafetyActivation {
	var out []models.SafetyActivation
	for _, ev := range in.Events {
		rank := ev.Severity.Rank()
		if rank < r.minSeverity.Rank() {
			continue
		}
		if r.maxSeverity != "" && rank > r.maxSeverity.Rank() {
			continue
		}
		if !ev.Affects(in.Symbol) {
			continue
		}
		start, end := ev.Window(r.pre, r.post)
		if in.Now.Before(start) || !in.Now.Before(end) {
			continue
		}
		out = append(out, models.SafetyActivation{
			RuleName:          r.name,
			TriggeringEventID: ev.ID,
			Symbol:            in.Symbol,
			Action:            r.action,
			ActivatedAt:       start,
			ExpiresAt:         end,
			Reason:            fmt.Sprintf("%s event %q at %s", ev.Severity, ev.Name, ev.ScheduledTime.UTC().Format(time.RFC3339)),
		})
	}
	return out
}

// drawdownEmergencyRule closes affected positions when the 24h drawdown
// breaches the limit. An unavailable metrics feed triggers the rule too:
// defaulting to the most conservative applicable action beats skipping
// evaluation blind.
type drawdownEmergencyRule struct {
	threshold float64
	window    time.Duration
}

func (r *drawdownEmergencyRule) Name() string { return "drawdown_emergency_exit" }

func (r *drawdownEmergencyRule) Evaluate(in RuleInput) []models.SafetyActivation {
	reason := ""
	switch {
	case !in.Risk.Available:
		reason = "risk metrics unavailable, conservative default"
	case in.Risk.Drawdown24h >= r.threshold:
		reason = fmt.Sprintf("24h drawdown %.2f%% >= limit %.2f%%", in.Risk.Drawdown24h*100, r.threshold*100)
	default:
		return nil
	}
	return []models.SafetyActivation{{
		RuleName:     r.Name(),
		Symbol:       in.Symbol,
		StrategyName: in.Strategy,
		Action:       models.ActionEmergencyExit,
		ActivatedAt:  in.Now,
		ExpiresAt:    in.Now.Add(r.window),
		Reason:       reason,
	}}
}

// lossStreakHaltRule halts a single strategy after too many consecutive
// losing trades.
type lossStreakHaltRule struct {
	threshold int
	window    time.Duration
}

func (r *lossStreakHaltRule) Name() string { return "loss_streak_halt" }

func (r *lossStreakHaltRule) Evaluate(in RuleInput) []models.SafetyActivation {
	if !in.Risk.Available || in.Risk.ConsecutiveLosses < r.threshold {
		return nil
	}
	return []models.SafetyActivation{{
		RuleName:     r.Name(),
		StrategyName: in.Strategy,
		Action:       models.ActionHaltTrading,
		ActivatedAt:  in.Now,
		ExpiresAt:    in.Now.Add(r.window),
		Reason:       fmt.Sprintf("%d consecutive losses >= %d", in.Risk.ConsecutiveLosses, r.threshold),
	}}
}

// volSpikeMonitorRule flags elevated scrutiny when realized volatility spikes
// or while trading against a stale calendar. No behavioral change.
type volSpikeMonitorRule struct {
	threshold float64
	window    time.Duration
}

func (r *volSpikeMonitorRule) Name() string { return "vol_spike_monitor" }

func (r *volSpikeMonitorRule) Evaluate(in RuleInput) []models.SafetyActivation {
	reason := ""
	switch {
	case in.CalendarStale:
		reason = "calendar_stale"
	case in.Risk.Available && in.Risk.RealizedVol >= r.threshold:
		reason = fmt.Sprintf("realized vol %.2f >= %.2f", in.Risk.RealizedVol, r.threshold)
	default:
		return nil
	}
	return []models.SafetyActivation{{
		RuleName:     r.Name(),
		Symbol:       in.Symbol,
		StrategyName: in.Strategy,
		Action:       models.ActionMonitor,
		ActivatedAt:  in.Now,
		ExpiresAt:    in.Now.Add(r.window),
		Reason:       reason,
	}}
}
