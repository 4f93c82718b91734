package performance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

// fakeOutcomeStore is an in-memory OutcomeStore. failures makes the next N
// inserts fail to exercise retry behavior.
type fakeOutcomeStore struct {
	mu       sync.Mutex
	byID     map[string]models.TradeOutcome
	failures int
	inserts  int
}

func newFakeOutcomeStore() *fakeOutcomeStore {
	return &fakeOutcomeStore{byID: make(map[string]models.TradeOutcome)}
}

func (s *fakeOutcomeStore) Insert(_ context.Context, t models.TradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("clickhouse down")
	}
	if _, ok := s.byID[t.ID]; ok {
		return models.ErrDuplicateTrade
	}
	s.byID[t.ID] = t
	return nil
}

func (s *fakeOutcomeStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *fakeOutcomeStore) Window(_ context.Context, strategy string, regime models.Regime, from, to time.Time) ([]models.TradeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradeOutcome
	for _, t := range s.byID {
		if t.StrategyName != strategy || t.RegimeAtEntry != regime {
			continue
		}
		if t.TimestampClosed.Before(from) || t.TimestampClosed.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(string, string)        {}
func (nopMetrics) RecordAdaptation(string, string)  {}
func (nopMetrics) RecordSuppressed(string, string)  {}
func (nopMetrics) RecordActivation(string, string)  {}
func (nopMetrics) RecordEffectiveAction(string, int) {}
func (nopMetrics) RecordRegime(string, string)      {}
func (nopMetrics) RecordError(string)               {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) SetCalendarStale(bool)            {}

type fakeAdaptationLog struct {
	entries []models.StrategyAdaptation
}

func (s *fakeAdaptationLog) Append(_ context.Context, a models.StrategyAdaptation) error {
	s.entries = append(s.entries, a)
	return nil
}

func (s *fakeAdaptationLog) Latest(_ context.Context, strategy string) (models.StrategyAdaptation, bool, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].StrategyName == strategy {
			return s.entries[i], true, nil
		}
	}
	return models.StrategyAdaptation{}, false, nil
}

func (s *fakeAdaptationLog) History(_ context.Context, strategy string, limit int) ([]models.StrategyAdaptation, error) {
	var out []models.StrategyAdaptation
	for _, a := range s.entries {
		if strategy == "" || a.StrategyName == strategy {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type countMetrics struct {
	nopMetrics
	mu     sync.Mutex
	errors map[string]int
}

func newCountMetrics() *countMetrics { return &countMetrics{errors: make(map[string]int)} }

func (m *countMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *countMetrics) errCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func outcome(id string, closed time.Time, pnl float64) models.TradeOutcome {
	return models.TradeOutcome{
		ID:              id,
		TimestampClosed: closed,
		Symbol:          "BTCUSDT",
		StrategyName:    "grid",
		PnL:             pnl,
		RegimeAtEntry:   models.RegimeHighVol,
	}
}

func TestRecordIdempotent(t *testing.T) {
	store := newFakeOutcomeStore()
	tr := NewTracker(Config{}, store, nopMetrics{}, nil)

	now := time.Now()
	require.NoError(t, tr.Record(context.Background(), outcome("t1", now, 10)))

	err := tr.Record(context.Background(), outcome("t1", now, 10))
	require.ErrorIs(t, err, models.ErrDuplicateTrade)
	assert.Len(t, store.byID, 1)
}

func TestRecordRetriesTransientFailures(t *testing.T) {
	store := newFakeOutcomeStore()
	store.failures = 2
	tr := NewTracker(Config{RetryBackoffMin: time.Millisecond}, store, nopMetrics{}, nil)

	require.NoError(t, tr.Record(context.Background(), outcome("t1", time.Now(), 5)))
	assert.Equal(t, 3, store.inserts)
}

func TestRecordExhaustedRetriesIsFatal(t *testing.T) {
	store := newFakeOutcomeStore()
	store.failures = 10
	tr := NewTracker(Config{RetryBackoffMin: time.Millisecond}, store, nopMetrics{}, nil)

	err := tr.Record(context.Background(), outcome("t1", time.Now(), 5))
	require.ErrorIs(t, err, models.ErrStorageWrite)
	assert.Equal(t, 3, store.inserts)
}

func TestRecordChecksAdaptationVersion(t *testing.T) {
	store := newFakeOutcomeStore()
	log := &fakeAdaptationLog{entries: []models.StrategyAdaptation{
		{ID: "adapt-1", StrategyName: "grid"},
	}}
	m := newCountMetrics()
	tr := NewTracker(Config{}, store, m, nil)
	tr.SetAdaptationLog(log)

	now := time.Now()

	known := outcome("t1", now, 10)
	known.AdaptationVersion = "adapt-1"
	require.NoError(t, tr.Record(context.Background(), known))
	assert.Equal(t, 0, m.errCount("adaptation_version_unknown"))

	// An unknown version is flagged but the trade is still recorded.
	unknown := outcome("t2", now, -5)
	unknown.AdaptationVersion = "adapt-missing"
	require.NoError(t, tr.Record(context.Background(), unknown))
	assert.Equal(t, 1, m.errCount("adaptation_version_unknown"))
	assert.Len(t, store.byID, 2)

	// No version on the outcome means nothing to check.
	require.NoError(t, tr.Record(context.Background(), outcome("t3", now, 1)))
	assert.Equal(t, 1, m.errCount("adaptation_version_unknown"))
}

func TestSummarizeWinRateAndDrawdown(t *testing.T) {
	store := newFakeOutcomeStore()
	tr := NewTracker(Config{MinSample: 3}, store, nopMetrics{}, nil)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return base.Add(5 * time.Hour) })

	// +10, -4, -8, +6 in close order: peak 10, trough -2, drawdown 12.
	pnls := []float64{10, -4, -8, 6}
	for i, p := range pnls {
		require.NoError(t, tr.Record(context.Background(),
			outcome(fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Hour), p)))
	}

	sum, err := tr.Summarize(context.Background(), "grid", models.RegimeHighVol, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.SampleCount)
	assert.InDelta(t, 0.5, sum.WinRate, 1e-9)
	assert.InDelta(t, 1.0, sum.AvgPnL, 1e-9)
	assert.InDelta(t, 12.0, sum.MaxDrawdown, 1e-9)
	assert.False(t, sum.LowConfidence)
}

func TestSummarizeEmptyWindow(t *testing.T) {
	tr := NewTracker(Config{}, newFakeOutcomeStore(), nopMetrics{}, nil)

	sum, err := tr.Summarize(context.Background(), "grid", models.RegimeSideways, time.Hour)
	require.NoError(t, err)
	assert.True(t, sum.Empty())
	assert.True(t, sum.LowConfidence)
}

func TestSummarizeLowConfidenceBelowMinSample(t *testing.T) {
	store := newFakeOutcomeStore()
	tr := NewTracker(Config{MinSample: 10}, store, nopMetrics{}, nil)
	now := time.Now()
	tr.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		require.NoError(t, tr.Record(context.Background(),
			outcome(fmt.Sprintf("t%d", i), now.Add(-time.Duration(i)*time.Minute), 1)))
	}

	sum, err := tr.Summarize(context.Background(), "grid", models.RegimeHighVol, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.SampleCount)
	assert.True(t, sum.LowConfidence)
}

func TestSummarizeExcludesTradesOutsideWindow(t *testing.T) {
	store := newFakeOutcomeStore()
	tr := NewTracker(Config{MinSample: 1}, store, nopMetrics{}, nil)
	now := time.Now()
	tr.SetClock(func() time.Time { return now })

	require.NoError(t, tr.Record(context.Background(), outcome("in", now.Add(-time.Hour), 3)))
	require.NoError(t, tr.Record(context.Background(), outcome("out", now.Add(-72*time.Hour), -100)))

	sum, err := tr.Summarize(context.Background(), "grid", models.RegimeHighVol, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SampleCount)
	assert.InDelta(t, 1.0, sum.WinRate, 1e-9)
}
