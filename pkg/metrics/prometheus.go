package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks            *prometheus.CounterVec
	adaptations      *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	activations      *prometheus.CounterVec
	effectiveAction  *prometheus.GaugeVec
	regime           *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	calendarStale    prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirai_ticks_total",
				Help: "Total evaluation ticks per strategy and result",
			},
			[]string{"strategy", "result"},
		),
		adaptations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirai_adaptations_total",
				Help: "Total applied parameter adaptations",
			},
			[]string{"strategy", "reason"},
		),
		suppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirai_adaptations_suppressed_total",
				Help: "Total adaptation proposals that were suppressed",
			},
			[]string{"strategy", "cause"},
		),
		activations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirai_safety_activations_total",
				Help: "Total safety rule activations",
			},
			[]string{"rule", "action"},
		),
		effectiveAction: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirai_safety_effective_action",
				Help: "Restrictiveness rank of the current effective safety action per key",
			},
			[]string{"key"},
		),
		regime: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirai_regime",
				Help: "Current regime per symbol, one series per label set at value 1",
			},
			[]string{"symbol", "regime"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirai_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirai_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		calendarStale: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirai_calendar_stale",
				Help: "1 when the economic calendar is serving stale data",
			},
		),
	}
}

// RecordTick records one engine evaluation tick.
func (r *Recorder) RecordTick(strategy, result string) {
	r.ticks.WithLabelValues(strategy, result).Inc()
}

// RecordAdaptation records an applied parameter adaptation.
func (r *Recorder) RecordAdaptation(strategy, reason string) {
	r.adaptations.WithLabelValues(strategy, reason).Inc()
}

// RecordSuppressed records a suppressed adaptation proposal.
func (r *Recorder) RecordSuppressed(strategy, cause string) {
	r.suppressed.WithLabelValues(strategy, cause).Inc()
}

// RecordActivation records a safety rule activation.
func (r *Recorder) RecordActivation(rule, action string) {
	r.activations.WithLabelValues(rule, action).Inc()
}

// RecordEffectiveAction records the current effective restrictiveness per key.
func (r *Recorder) RecordEffectiveAction(key string, restrictiveness int) {
	r.effectiveAction.WithLabelValues(key).Set(float64(restrictiveness))
}

// RecordRegime marks the current regime for a symbol.
func (r *Recorder) RecordRegime(symbol, regime string) {
	r.regime.WithLabelValues(symbol, regime).Set(1)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// SetCalendarStale flags whether calendar data is stale.
func (r *Recorder) SetCalendarStale(stale bool) {
	if stale {
		r.calendarStale.Set(1)
	} else {
		r.calendarStale.Set(0)
	}
}
