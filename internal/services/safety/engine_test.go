package safety

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

type fakeActivationStore struct {
	mu       sync.Mutex
	rows     []models.SafetyActivation
	failRule string // Append fails for activations from this rule
}

func (s *fakeActivationStore) Append(_ context.Context, a models.SafetyActivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRule != "" && a.RuleName == s.failRule {
		return models.ErrStorageWrite
	}
	s.rows = append(s.rows, a)
	return nil
}

func (s *fakeActivationStore) ActiveAt(_ context.Context, key string, at time.Time) ([]models.SafetyActivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SafetyActivation
	for _, a := range s.rows {
		if (a.Symbol == key || a.StrategyName == key) && a.ActiveAt(at) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeActivationStore) History(_ context.Context, key string, limit int) ([]models.SafetyActivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SafetyActivation
	for _, a := range s.rows {
		if key == "" || a.Symbol == key || a.StrategyName == key {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeCalendar struct {
	events []models.EconomicEvent
	stale  bool
}

func (c *fakeCalendar) Upcoming(context.Context, time.Duration) ([]models.EconomicEvent, error) {
	return c.events, nil
}
func (c *fakeCalendar) Stale() bool { return c.stale }

type fakeRisk struct {
	snap models.RiskSnapshot
	err  error
}

func (r *fakeRisk) Snapshot(context.Context, string, string) (models.RiskSnapshot, error) {
	return r.snap, r.err
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(string, string)         {}
func (nopMetrics) RecordAdaptation(string, string)   {}
func (nopMetrics) RecordSuppressed(string, string)   {}
func (nopMetrics) RecordActivation(string, string)   {}
func (nopMetrics) RecordEffectiveAction(string, int) {}
func (nopMetrics) RecordRegime(string, string)       {}
func (nopMetrics) RecordError(string)                {}
func (nopMetrics) RecordLatency(string, float64)     {}
func (nopMetrics) SetCalendarStale(bool)             {}

func okRisk() models.RiskSnapshot {
	return models.RiskSnapshot{Available: true, Drawdown24h: 0.01}
}

func newTestEngine(cal *fakeCalendar, risk *fakeRisk) (*Engine, *fakeActivationStore) {
	store := &fakeActivationStore{}
	e := NewEngine(Config{}, store, cal, risk, nil, nopMetrics{}, nil)
	return e, store
}

func TestCriticalEventBlackoutWindow(t *testing.T) {
	eventAt := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev1",
		Name:             "FOMC rate decision",
		Severity:         models.SeverityCritical,
		ScheduledTime:    eventAt,
		ImpactCurrencies: []string{"USD"},
		Duration:         60 * time.Minute,
	}}}
	e, _ := newTestEngine(cal, &fakeRisk{snap: okRisk()})

	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", eventAt)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionBlackout, acts[0].Action)
	assert.Equal(t, "ev1", acts[0].TriggeringEventID)
	assert.Equal(t, eventAt.Add(-15*time.Minute), acts[0].ActivatedAt)
	assert.Equal(t, eventAt.Add(60*time.Minute), acts[0].ExpiresAt)

	// Trade attempt at T is restricted.
	action, err := e.EffectiveAction(context.Background(), "BTCUSDT", eventAt)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBlackout, action)

	// At T+61m the activation has expired; trading resumes.
	action, err = e.EffectiveAction(context.Background(), "BTCUSDT", eventAt.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.ActionNone, action)
}

func TestEventSeverityTiersAreDisjoint(t *testing.T) {
	eventAt := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		severity models.EventSeverity
		rule     string
		action   models.SafetyAction
	}{
		{models.SeverityCritical, "critical_event_blackout", models.ActionBlackout},
		{models.SeverityHigh, "high_severity_reduce", models.ActionReduceExposure},
	}
	for _, tc := range cases {
		cal := &fakeCalendar{events: []models.EconomicEvent{{
			ID:               "ev1",
			Severity:         tc.severity,
			ScheduledTime:    eventAt,
			ImpactCurrencies: []string{"USD"},
			Duration:         time.Hour,
		}}}
		e, _ := newTestEngine(cal, &fakeRisk{snap: okRisk()})

		acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", eventAt)
		require.NoError(t, err)
		require.Len(t, acts, 1, "severity %s must match exactly one event rule", tc.severity)
		assert.Equal(t, tc.rule, acts[0].RuleName)
		assert.Equal(t, tc.action, acts[0].Action)
	}
}

func TestEventOutsideWindowDoesNotTrigger(t *testing.T) {
	eventAt := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev1",
		Severity:         models.SeverityCritical,
		ScheduledTime:    eventAt,
		ImpactCurrencies: []string{"USD"},
		Duration:         time.Hour,
	}}}
	e, store := newTestEngine(cal, &fakeRisk{snap: okRisk()})

	// 16 minutes before the event is outside the 15m pre buffer.
	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", eventAt.Add(-16*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, acts)
	assert.Empty(t, store.rows)
}

func TestEventForOtherCurrencyIgnored(t *testing.T) {
	eventAt := time.Now().UTC()
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev1",
		Severity:         models.SeverityCritical,
		ScheduledTime:    eventAt,
		ImpactCurrencies: []string{"JPY"},
		Duration:         time.Hour,
	}}}
	e, _ := newTestEngine(cal, &fakeRisk{snap: okRisk()})

	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", eventAt)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestMostRestrictiveWinsAcrossOverlaps(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev-high",
		Severity:         models.SeverityHigh,
		ScheduledTime:    now,
		ImpactCurrencies: []string{"USD"},
		Duration:         2 * time.Hour,
	}}}
	risk := &fakeRisk{snap: models.RiskSnapshot{Available: true, Drawdown24h: 0.20}}
	e, store := newTestEngine(cal, risk)

	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", now)
	require.NoError(t, err)
	// high-severity reduce + drawdown emergency exit, each with its own row.
	require.Len(t, acts, 2)
	assert.Len(t, store.rows, 2)

	action, err := e.EffectiveAction(context.Background(), "BTCUSDT", now)
	require.NoError(t, err)
	assert.Equal(t, models.ActionEmergencyExit, action)

	// Once the 30m metric activation expires, REDUCE_EXPOSURE remains.
	action, err = e.EffectiveAction(context.Background(), "BTCUSDT", now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.ActionReduceExposure, action)
}

func TestFailedAppendDoesNotSuppressOtherRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev-high",
		Severity:         models.SeverityHigh,
		ScheduledTime:    now,
		ImpactCurrencies: []string{"USD"},
		Duration:         2 * time.Hour,
	}}}
	risk := &fakeRisk{snap: models.RiskSnapshot{Available: true, Drawdown24h: 0.20}}
	e, store := newTestEngine(cal, risk)
	store.failRule = "high_severity_reduce"

	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", now)
	require.ErrorIs(t, err, models.ErrStorageWrite)

	// the drawdown rule still persists its activation
	require.Len(t, acts, 1)
	assert.Equal(t, "drawdown_emergency_exit", acts[0].RuleName)
	require.Len(t, store.rows, 1)
	assert.Equal(t, models.ActionEmergencyExit, store.rows[0].Action)
}

func TestUnavailableMetricsDefaultConservative(t *testing.T) {
	cal := &fakeCalendar{}
	e, _ := newTestEngine(cal, &fakeRisk{snap: models.RiskSnapshot{Available: false}})

	now := time.Now().UTC()
	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", now)
	require.NoError(t, err)
	require.NotEmpty(t, acts)

	action, err := e.EffectiveAction(context.Background(), "BTCUSDT", now)
	require.NoError(t, err)
	assert.Equal(t, models.ActionEmergencyExit, action)
}

func TestStaleCalendarRaisesMonitor(t *testing.T) {
	cal := &fakeCalendar{stale: true}
	e, _ := newTestEngine(cal, &fakeRisk{snap: okRisk()})

	now := time.Now().UTC()
	acts, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", now)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActionMonitor, acts[0].Action)
	assert.Equal(t, "calendar_stale", acts[0].Reason)
}

func TestRepeatedTicksDoNotDuplicateActivations(t *testing.T) {
	eventAt := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{events: []models.EconomicEvent{{
		ID:               "ev1",
		Severity:         models.SeverityCritical,
		ScheduledTime:    eventAt,
		ImpactCurrencies: []string{"USD"},
		Duration:         time.Hour,
	}}}
	e, store := newTestEngine(cal, &fakeRisk{snap: okRisk()})

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", eventAt.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	assert.Len(t, store.rows, 1)
}

func TestLossStreakHaltsStrategy(t *testing.T) {
	cal := &fakeCalendar{}
	risk := &fakeRisk{snap: models.RiskSnapshot{Available: true, ConsecutiveLosses: 7}}
	e, _ := newTestEngine(cal, risk)

	now := time.Now().UTC()
	_, err := e.Evaluate(context.Background(), "grid", "BTCUSDT", now)
	require.NoError(t, err)

	// Halt is scoped to the strategy, not the symbol.
	action, err := e.EffectiveAction(context.Background(), "grid", now)
	require.NoError(t, err)
	assert.Equal(t, models.ActionHaltTrading, action)
}

func TestActionRestrictivenessOrdering(t *testing.T) {
	ordered := []models.SafetyAction{
		models.ActionBlackout,
		models.ActionEmergencyExit,
		models.ActionHaltTrading,
		models.ActionReduceExposure,
		models.ActionMonitor,
		models.ActionNone,
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Greater(t, ordered[i].Restrictiveness(), ordered[i+1].Restrictiveness())
		assert.Equal(t, ordered[i], models.MoreRestrictive(ordered[i], ordered[i+1]))
	}
}
