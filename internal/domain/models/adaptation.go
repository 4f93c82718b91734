package models

import "time"

// Parameters is one strategy configuration: named numeric knobs.
type Parameters map[string]float64

// Clone returns a copy safe to mutate.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParameterSpec bounds one parameter. MaxStep limits how far a single
// adaptation may move a risk-relevant parameter.
type ParameterSpec struct {
	Min          float64 `yaml:"min" json:"min"`
	Max          float64 `yaml:"max" json:"max"`
	MaxStep      float64 `yaml:"max_step" json:"max_step"`
	RiskRelevant bool    `yaml:"risk_relevant" json:"risk_relevant"`
}

// Range returns the allowed span of the parameter.
func (s ParameterSpec) Range() float64 { return s.Max - s.Min }

// AdaptationReason explains why the controller changed parameters.
type AdaptationReason string

const (
	ReasonUnderperformance AdaptationReason = "underperformance"
	ReasonRegimeShift      AdaptationReason = "regime_shift"
	ReasonScheduledReview  AdaptationReason = "scheduled_review"
)

// AdaptationSpeed controls step size and cooldown for parameter changes.
type AdaptationSpeed string

const (
	SpeedSlow     AdaptationSpeed = "SLOW"
	SpeedMedium   AdaptationSpeed = "MEDIUM"
	SpeedFast     AdaptationSpeed = "FAST"
	SpeedReactive AdaptationSpeed = "REACTIVE"
)

// ControllerState is the per-strategy adaptation state machine position.
type ControllerState string

const (
	StateStable     ControllerState = "STABLE"
	StateEvaluating ControllerState = "EVALUATING"
	StateAdapting   ControllerState = "ADAPTING"
)

// StrategyAdaptation is an immutable log entry describing one parameter
// change. The current effective configuration of a strategy is always the
// NewParameters of its most recent entry; configuration is never stored
// standalone.
type StrategyAdaptation struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	StrategyName       string             `json:"strategy_name"`
	PreviousParameters Parameters         `json:"previous_parameters"`
	NewParameters      Parameters         `json:"new_parameters"`
	Regime             Regime             `json:"regime"`
	Features           FeatureVector      `json:"features"`
	PerformanceBefore  PerformanceSummary `json:"performance_before"`
	Reason             AdaptationReason   `json:"reason"`
	Confidence         float64            `json:"confidence"`
}
