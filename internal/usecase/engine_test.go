package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

type fakeClassifier struct {
	snap models.MarketRegimeSnapshot
	ok   bool
}

func (f *fakeClassifier) Classify(symbol string, fv models.FeatureVector, at time.Time) (models.MarketRegimeSnapshot, error) {
	return f.snap, nil
}

func (f *fakeClassifier) Current(symbol string) (models.MarketRegimeSnapshot, bool) {
	return f.snap, f.ok
}

type fakeTracker struct {
	summary      models.PerformanceSummary
	summarize    int
	recordErr    error
	summarizeErr error
}

func (f *fakeTracker) Record(ctx context.Context, t models.TradeOutcome) error {
	return f.recordErr
}

func (f *fakeTracker) Summarize(ctx context.Context, strategy string, regime models.Regime, window time.Duration) (models.PerformanceSummary, error) {
	f.summarize++
	return f.summary, f.summarizeErr
}

type fakeController struct {
	mu        sync.Mutex
	evaluated int
}

func (f *fakeController) Evaluate(ctx context.Context, strategy string, snap models.MarketRegimeSnapshot, summary models.PerformanceSummary) (*models.StrategyAdaptation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated++
	return nil, nil
}

func (f *fakeController) EffectiveParameters(ctx context.Context, strategy string) (models.Parameters, string, error) {
	return models.Parameters{}, "", nil
}

func (f *fakeController) State(strategy string) models.ControllerState {
	return models.StateStable
}

type fakeSafety struct {
	mu        sync.Mutex
	actions   map[string]models.SafetyAction
	evaluated int

	// when gate is set, Evaluate signals entered and blocks until gate closes,
	// then records the context state it observed
	gate    chan struct{}
	entered chan struct{}
	ctxErr  error
}

func (f *fakeSafety) Evaluate(ctx context.Context, strategy, symbol string, at time.Time) ([]models.SafetyActivation, error) {
	if f.gate != nil {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		<-f.gate
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated++
	return nil, nil
}

func (f *fakeSafety) EffectiveAction(ctx context.Context, key string, at time.Time) (models.SafetyAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.actions[key]; ok {
		return a, nil
	}
	return models.ActionNone, nil
}

type recordMetrics struct {
	mu    sync.Mutex
	ticks map[string]int
}

func newRecordMetrics() *recordMetrics { return &recordMetrics{ticks: make(map[string]int)} }

func (m *recordMetrics) RecordTick(strategy, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[strategy+"/"+result]++
}
func (m *recordMetrics) RecordAdaptation(strategy, reason string)       {}
func (m *recordMetrics) RecordSuppressed(strategy, cause string)        {}
func (m *recordMetrics) RecordActivation(rule, action string)           {}
func (m *recordMetrics) RecordEffectiveAction(key string, rank int)     {}
func (m *recordMetrics) RecordRegime(symbol, regime string)             {}
func (m *recordMetrics) RecordError(kind string)                        {}
func (m *recordMetrics) RecordLatency(op string, seconds float64)       {}
func (m *recordMetrics) SetCalendarStale(stale bool)                    {}

func (m *recordMetrics) tickCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks[key]
}

func newTestEngine(cls *fakeClassifier, trk *fakeTracker, ctl *fakeController, saf *fakeSafety, m *recordMetrics) *Engine {
	return NewEngine(
		EngineConfig{TickInterval: time.Minute, SummaryWindow: 48 * time.Hour},
		[]StrategyTarget{{Name: "grid", Symbol: "BTCUSDT"}},
		cls, trk, ctl, saf, 0.5, m, nil,
	)
}

func TestTickRunsAllComponents(t *testing.T) {
	cls := &fakeClassifier{snap: models.MarketRegimeSnapshot{Symbol: "BTCUSDT", Regime: models.RegimeSideways, Confidence: 0.7}, ok: true}
	trk := &fakeTracker{summary: models.PerformanceSummary{SampleCount: 20, WinRate: 0.6}}
	ctl := &fakeController{}
	saf := &fakeSafety{}
	m := newRecordMetrics()
	e := newTestEngine(cls, trk, ctl, saf, m)

	e.tick(context.Background(), StrategyTarget{Name: "grid", Symbol: "BTCUSDT"})

	assert.Equal(t, 1, trk.summarize)
	assert.Equal(t, 1, ctl.evaluated)
	assert.Equal(t, 1, saf.evaluated)
	assert.Equal(t, 1, m.tickCount("grid/ok"))
}

func TestTickWithoutRegimeStillRunsSafety(t *testing.T) {
	cls := &fakeClassifier{ok: false}
	trk := &fakeTracker{}
	ctl := &fakeController{}
	saf := &fakeSafety{}
	m := newRecordMetrics()
	e := newTestEngine(cls, trk, ctl, saf, m)

	e.tick(context.Background(), StrategyTarget{Name: "grid", Symbol: "BTCUSDT"})

	assert.Equal(t, 0, trk.summarize)
	assert.Equal(t, 0, ctl.evaluated)
	assert.Equal(t, 1, saf.evaluated)
	assert.Equal(t, 1, m.tickCount("grid/no_regime"))
}

func TestOverlappingTickSkipped(t *testing.T) {
	cls := &fakeClassifier{ok: false}
	saf := &fakeSafety{}
	m := newRecordMetrics()
	e := newTestEngine(cls, &fakeTracker{}, &fakeController{}, saf, m)

	// simulate a tick still in flight
	e.inFlight["grid"].Store(true)
	e.dispatch(context.Background(), StrategyTarget{Name: "grid", Symbol: "BTCUSDT"})

	assert.Equal(t, 1, m.tickCount("grid/skipped"))
	assert.Equal(t, 0, saf.evaluated)

	// once the slot frees up, the next tick runs
	e.inFlight["grid"].Store(false)
	e.dispatch(context.Background(), StrategyTarget{Name: "grid", Symbol: "BTCUSDT"})
	e.wg.Wait()
	assert.Equal(t, 1, saf.evaluated)
}

func TestSizeMultiplierComposition(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		actions  map[string]models.SafetyAction
		wantMult float64
		wantAct  models.SafetyAction
	}{
		{"unrestricted", nil, 1, models.ActionNone},
		{"monitor only", map[string]models.SafetyAction{"grid": models.ActionMonitor}, 1, models.ActionMonitor},
		{"reduced", map[string]models.SafetyAction{"grid": models.ActionReduceExposure}, 0.5, models.ActionReduceExposure},
		{"symbol halt wins", map[string]models.SafetyAction{
			"grid":    models.ActionReduceExposure,
			"BTCUSDT": models.ActionHaltTrading,
		}, 0, models.ActionHaltTrading},
		{"blackout", map[string]models.SafetyAction{"BTCUSDT": models.ActionBlackout}, 0, models.ActionBlackout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			saf := &fakeSafety{actions: tc.actions}
			e := newTestEngine(&fakeClassifier{}, &fakeTracker{}, &fakeController{}, saf, newRecordMetrics())

			mult, act, err := e.SizeMultiplier(context.Background(), "grid", "BTCUSDT", now)
			require.NoError(t, err)
			assert.Equal(t, tc.wantMult, mult)
			assert.Equal(t, tc.wantAct, act)
		})
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	cls := &fakeClassifier{ok: false}
	saf := &fakeSafety{}
	e := NewEngine(
		EngineConfig{TickInterval: 10 * time.Millisecond, SummaryWindow: time.Hour},
		[]StrategyTarget{{Name: "grid", Symbol: "BTCUSDT"}},
		cls, &fakeTracker{}, &fakeController{}, saf, 0.5, newRecordMetrics(), nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not drain after cancel")
	}
	saf.mu.Lock()
	defer saf.mu.Unlock()
	assert.GreaterOrEqual(t, saf.evaluated, 1)
}

func TestInFlightTickSurvivesCancel(t *testing.T) {
	cls := &fakeClassifier{ok: false}
	saf := &fakeSafety{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	e := NewEngine(
		EngineConfig{TickInterval: time.Minute, SummaryWindow: time.Hour},
		[]StrategyTarget{{Name: "grid", Symbol: "BTCUSDT"}},
		cls, &fakeTracker{}, &fakeController{}, saf, 0.5, newRecordMetrics(), nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// wait for the first tick to enter the safety evaluation, then shut down
	// while it is still in flight
	select {
	case <-saf.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never reached safety evaluation")
	}
	cancel()
	close(saf.gate)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not drain after cancel")
	}

	saf.mu.Lock()
	defer saf.mu.Unlock()
	assert.Equal(t, 1, saf.evaluated)
	assert.NoError(t, saf.ctxErr, "in-flight tick must finish on an uncanceled context")
}

func TestTickSummaryFailureFallsBackToLastGood(t *testing.T) {
	cls := &fakeClassifier{snap: models.MarketRegimeSnapshot{Symbol: "BTCUSDT", Regime: models.RegimeSideways, Confidence: 0.7}, ok: true}
	trk := &fakeTracker{summary: models.PerformanceSummary{SampleCount: 20, WinRate: 0.6}}
	ctl := &fakeController{}
	saf := &fakeSafety{}
	m := newRecordMetrics()
	e := newTestEngine(cls, trk, ctl, saf, m)

	target := StrategyTarget{Name: "grid", Symbol: "BTCUSDT"}
	e.tick(context.Background(), target)

	trk.summarizeErr = models.ErrStorageWrite
	e.tick(context.Background(), target)

	assert.Equal(t, 2, ctl.evaluated, "controller runs on the cached summary")
	assert.Equal(t, 2, saf.evaluated, "safety runs on every tick")
	assert.Equal(t, 1, m.tickCount("grid/ok"))
	assert.Equal(t, 1, m.tickCount("grid/degraded"))
}

func TestTickSummaryFailureWithoutCacheStillRunsSafety(t *testing.T) {
	cls := &fakeClassifier{snap: models.MarketRegimeSnapshot{Symbol: "BTCUSDT", Regime: models.RegimeSideways, Confidence: 0.7}, ok: true}
	trk := &fakeTracker{summarizeErr: models.ErrStorageWrite}
	ctl := &fakeController{}
	saf := &fakeSafety{}
	m := newRecordMetrics()
	e := newTestEngine(cls, trk, ctl, saf, m)

	e.tick(context.Background(), StrategyTarget{Name: "grid", Symbol: "BTCUSDT"})

	assert.Equal(t, 0, ctl.evaluated)
	assert.Equal(t, 1, saf.evaluated)
	assert.Equal(t, 1, m.tickCount("grid/degraded"))
}
