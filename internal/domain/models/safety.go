package models

import (
	"strings"
	"time"
)

// EventSeverity grades scheduled economic events.
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// Rank orders severities; higher is more severe.
func (s EventSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// EconomicEvent is a scheduled calendar entry, externally curated and
// read-only from the engine's perspective.
type EconomicEvent struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Category         string        `json:"category"`
	Severity         EventSeverity `json:"severity"`
	ScheduledTime    time.Time     `json:"scheduled_time"`
	ImpactCurrencies []string      `json:"impact_currencies"`
	VolatilityFactor float64       `json:"volatility_factor"`
	Duration         time.Duration `json:"duration"`
}

// Window returns the blackout interval around the event: pre buffer before
// the scheduled time through the event duration plus the post buffer.
func (e EconomicEvent) Window(pre, post time.Duration) (time.Time, time.Time) {
	return e.ScheduledTime.Add(-pre), e.ScheduledTime.Add(e.Duration + post)
}

// Affects reports whether any impacted currency appears in the symbol
// (e.g. a USD event affects BTCUSDT).
func (e EconomicEvent) Affects(symbol string) bool {
	sym := strings.ToUpper(symbol)
	for _, cur := range e.ImpactCurrencies {
		if cur != "" && strings.Contains(sym, strings.ToUpper(cur)) {
			return true
		}
	}
	return false
}

// SafetyAction is a protective restriction. Restrictiveness descends from
// BLACKOUT down to MONITOR; NONE means no restriction in force.
type SafetyAction string

const (
	ActionBlackout       SafetyAction = "BLACKOUT"
	ActionEmergencyExit  SafetyAction = "EMERGENCY_EXIT"
	ActionHaltTrading    SafetyAction = "HALT_TRADING"
	ActionReduceExposure SafetyAction = "REDUCE_EXPOSURE"
	ActionMonitor        SafetyAction = "MONITOR"
	ActionNone           SafetyAction = "NONE"
)

// Restrictiveness orders actions; higher wins when activations overlap.
func (a SafetyAction) Restrictiveness() int {
	switch a {
	case ActionBlackout:
		return 5
	case ActionEmergencyExit:
		return 4
	case ActionHaltTrading:
		return 3
	case ActionReduceExposure:
		return 2
	case ActionMonitor:
		return 1
	}
	return 0
}

// MoreRestrictive returns the stricter of two actions.
func MoreRestrictive(a, b SafetyAction) SafetyAction {
	if b.Restrictiveness() > a.Restrictiveness() {
		return b
	}
	return a
}

// SafetyActivation is an immutable record of a triggered protective action.
// Activations are never deleted; expiry only excludes them from the
// effective-action computation.
type SafetyActivation struct {
	ID                string       `json:"id"`
	RuleName          string       `json:"rule_name"`
	TriggeringEventID string       `json:"triggering_event_id,omitempty"`
	Symbol            string       `json:"symbol,omitempty"`
	StrategyName      string       `json:"strategy_name,omitempty"`
	Action            SafetyAction `json:"action"`
	ActivatedAt       time.Time    `json:"activated_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	Reason            string       `json:"reason"`
}

// ActiveAt reports whether the activation restricts trading at t.
func (a SafetyActivation) ActiveAt(t time.Time) bool {
	return !t.Before(a.ActivatedAt) && t.Before(a.ExpiresAt)
}

// RiskSnapshot carries the live risk metrics a safety rule may consult.
// Available is false when the metrics collaborator could not be reached;
// rules must then default to their most conservative applicable action.
type RiskSnapshot struct {
	StrategyName      string    `json:"strategy_name"`
	Symbol            string    `json:"symbol"`
	Timestamp         time.Time `json:"timestamp"`
	Drawdown24h       float64   `json:"drawdown_24h"` // fraction of equity, positive = loss
	OpenExposure      float64   `json:"open_exposure"`
	RealizedVol       float64   `json:"realized_vol"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	Available         bool      `json:"available"`
}
