package adaptation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

type fakeAdaptationStore struct {
	mu      sync.Mutex
	entries map[string][]models.StrategyAdaptation
}

func newFakeAdaptationStore() *fakeAdaptationStore {
	return &fakeAdaptationStore{entries: make(map[string][]models.StrategyAdaptation)}
}

func (s *fakeAdaptationStore) Append(_ context.Context, a models.StrategyAdaptation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.StrategyName] = append(s.entries[a.StrategyName], a)
	return nil
}

func (s *fakeAdaptationStore) Latest(_ context.Context, strategy string) (models.StrategyAdaptation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.entries[strategy]
	if len(es) == 0 {
		return models.StrategyAdaptation{}, false, nil
	}
	return es[len(es)-1], true, nil
}

func (s *fakeAdaptationStore) History(_ context.Context, strategy string, limit int) ([]models.StrategyAdaptation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.entries[strategy]
	if limit > 0 && len(es) > limit {
		es = es[len(es)-limit:]
	}
	return es, nil
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

func gridConfig() StrategyConfig {
	return StrategyConfig{
		Name:        "grid",
		Symbol:      "BTCUSDT",
		Speed:       models.SpeedFast,
		MinWinRate:  0.45,
		MaxDrawdown: 500,
		Parameters:  models.Parameters{"position_size_mult": 1.0, "grid_spacing": 0.5},
		Specs: map[string]models.ParameterSpec{
			"position_size_mult": {Min: 0.1, Max: 2.0, MaxStep: 0.5, RiskRelevant: true},
			"grid_spacing":       {Min: 0.1, Max: 2.0, MaxStep: 0.5},
		},
	}
}

func snapshot(r models.Regime) models.MarketRegimeSnapshot {
	return models.MarketRegimeSnapshot{
		Symbol:     "BTCUSDT",
		Timestamp:  time.Now(),
		Regime:     r,
		Confidence: 0.8,
	}
}

func losingSummary(r models.Regime, samples int) models.PerformanceSummary {
	return models.PerformanceSummary{
		StrategyName: "grid",
		Regime:       r,
		WinRate:      0.30,
		AvgPnL:       -2,
		MaxDrawdown:  40,
		SampleCount:  samples,
	}
}

func TestEvaluateUnderperformanceProducesOneAdaptation(t *testing.T) {
	store := newFakeAdaptationStore()
	c := NewController([]StrategyConfig{gridConfig()}, store, nil, nopMetrics{}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	adapt, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeHighVol), losingSummary(models.RegimeHighVol, 20))
	require.NoError(t, err)
	require.NotNil(t, adapt)

	// FAST step is 0.25 of the [0.1, 2.0] range = 0.475, capped by the
	// parameter's max step of 0.5; expect 1.0 -> 0.525.
	assert.InDelta(t, 0.525, adapt.NewParameters["position_size_mult"], 1e-9)
	assert.Equal(t, 1.0, adapt.PreviousParameters["position_size_mult"])
	assert.Equal(t, models.ReasonUnderperformance, adapt.Reason)
	// Only the risk-relevant parameter moves.
	assert.Equal(t, 0.5, adapt.NewParameters["grid_spacing"])
	assert.Len(t, store.entries["grid"], 1)
}

func TestEvaluateCooldownSuppressesSecondTrigger(t *testing.T) {
	store := newFakeAdaptationStore()
	c := NewController([]StrategyConfig{gridConfig()}, store, nil, nopMetrics{}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	first, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeHighVol), losingSummary(models.RegimeHighVol, 20))
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second trigger 1 minute later, well inside the FAST 15m cooldown.
	c.SetClock(func() time.Time { return now.Add(time.Minute) })
	second, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeSideways), losingSummary(models.RegimeSideways, 20))
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, store.entries["grid"], 1)

	// After the cooldown the next trigger adapts again.
	c.SetClock(func() time.Time { return now.Add(16 * time.Minute) })
	third, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeHighVol), losingSummary(models.RegimeHighVol, 20))
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Len(t, store.entries["grid"], 2)
	assert.GreaterOrEqual(t, third.Timestamp.Sub(first.Timestamp), ProfileFor(models.SpeedFast).Cooldown)
}

func TestEvaluateLowConfidenceDoesNotAct(t *testing.T) {
	store := newFakeAdaptationStore()
	c := NewController([]StrategyConfig{gridConfig()}, store, nil, nopMetrics{}, nil)

	sum := losingSummary(models.RegimeHighVol, 3)
	sum.LowConfidence = true
	adapt, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeHighVol), sum)
	require.NoError(t, err)
	assert.Nil(t, adapt)
	assert.Empty(t, store.entries["grid"])
	assert.Equal(t, models.StateStable, c.State("grid"))
}

func TestEvaluateWithinTargetsStaysStable(t *testing.T) {
	store := newFakeAdaptationStore()
	c := NewController([]StrategyConfig{gridConfig()}, store, nil, nopMetrics{}, nil)

	sum := models.PerformanceSummary{
		StrategyName: "grid",
		Regime:       models.RegimeBullTrend,
		WinRate:      0.60,
		MaxDrawdown:  100,
		SampleCount:  25,
	}
	adapt, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeBullTrend), sum)
	require.NoError(t, err)
	assert.Nil(t, adapt)
	assert.Empty(t, store.entries["grid"])
}

func TestEvaluateClampsToParameterMinimum(t *testing.T) {
	cfg := gridConfig()
	cfg.Parameters["position_size_mult"] = 0.3 // one step would fall below min
	store := newFakeAdaptationStore()
	c := NewController([]StrategyConfig{cfg}, store, nil, nopMetrics{}, nil)

	adapt, err := c.Evaluate(context.Background(), "grid", snapshot(models.RegimeHighVol), losingSummary(models.RegimeHighVol, 20))
	require.NoError(t, err)
	require.NotNil(t, adapt)
	assert.InDelta(t, 0.1, adapt.NewParameters["position_size_mult"], 1e-9)
}

func TestEffectiveParametersDeriveFromLatestRecord(t *testing.T) {
	store := newFakeAdaptationStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(context.Background(), models.StrategyAdaptation{
		ID:            "v1",
		Timestamp:     base,
		StrategyName:  "grid",
		NewParameters: models.Parameters{"position_size_mult": 0.8},
	}))
	require.NoError(t, store.Append(context.Background(), models.StrategyAdaptation{
		ID:            "v2",
		Timestamp:     base.Add(time.Hour),
		StrategyName:  "grid",
		NewParameters: models.Parameters{"position_size_mult": 0.6},
	}))

	c := NewController([]StrategyConfig{gridConfig()}, store, nil, nopMetrics{}, nil)
	params, version, err := c.EffectiveParameters(context.Background(), "grid")
	require.NoError(t, err)
	assert.Equal(t, "v2", version)
	assert.Equal(t, 0.6, params["position_size_mult"])
}

func TestEffectiveParametersFallBackToInitialConfig(t *testing.T) {
	c := NewController([]StrategyConfig{gridConfig()}, newFakeAdaptationStore(), nil, nopMetrics{}, nil)
	params, version, err := c.EffectiveParameters(context.Background(), "grid")
	require.NoError(t, err)
	assert.Empty(t, version)
	assert.Equal(t, 1.0, params["position_size_mult"])
}

func TestEvaluateUnknownStrategy(t *testing.T) {
	c := NewController(nil, newFakeAdaptationStore(), nil, nopMetrics{}, nil)
	_, err := c.Evaluate(context.Background(), "nope", snapshot(models.RegimeSideways), models.PerformanceSummary{})
	require.Error(t, err)
}
