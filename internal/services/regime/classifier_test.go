package regime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

func testVector(trend, vol, comp, mom float64) models.FeatureVector {
	return models.FeatureVector{
		TrendStrength:    trend,
		RealizedVol:      vol,
		RangeCompression: comp,
		Momentum:         mom,
	}
}

func TestClassifyVolatilityPrecedence(t *testing.T) {
	c := NewClassifier(Config{})
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Strong trend AND high volatility: volatility wins.
	snap, err := c.Classify("BTCUSDT", testVector(0.9, 1.2, 0.5, 0.4), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeHighVol, snap.Regime)

	snap, err = c.Classify("BTCUSDT", testVector(0.9, 0.05, 0.5, 0.4), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeLowVol, snap.Regime)
}

func TestClassifyTrendAndSideways(t *testing.T) {
	c := NewClassifier(Config{})
	at := time.Now().UTC()

	snap, err := c.Classify("ETHUSDT", testVector(0.8, 0.4, 0.6, 0.3), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBullTrend, snap.Regime)
	assert.GreaterOrEqual(t, snap.Confidence, 0.55)

	snap, err = c.Classify("ETHUSDT", testVector(-0.8, 0.4, 0.6, -0.3), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBearTrend, snap.Regime)

	snap, err = c.Classify("ETHUSDT", testVector(0.05, 0.4, 0.6, 0.0), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeSideways, snap.Regime)
}

func TestClassifyLowConfidenceResolvesToSideways(t *testing.T) {
	c := NewClassifier(Config{})
	// Barely past the trend threshold: confidence sits near 0.5, below the
	// default 0.55 floor, so the directional call downgrades.
	snap, err := c.Classify("SOLUSDT", testVector(0.31, 0.4, 0.6, 0.1), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.RegimeSideways, snap.Regime)
}

func TestClassifyConsolidation(t *testing.T) {
	c := NewClassifier(Config{})
	snap, err := c.Classify("BTCUSDT", testVector(0.05, 0.4, 0.2, 0.05), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.RegimeConsolidation, snap.Regime)
}

func TestClassifyBreakoutAfterCompression(t *testing.T) {
	c := NewClassifier(Config{})
	at := time.Now().UTC()
	// Build a tight-range history, then expand with momentum.
	for i := 0; i < 4; i++ {
		_, err := c.Classify("BTCUSDT", testVector(0.1, 0.4, 0.2, 0.05), at)
		require.NoError(t, err)
	}
	snap, err := c.Classify("BTCUSDT", testVector(0.2, 0.4, 0.5, 0.6), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeBreakout, snap.Regime)
}

func TestClassifyReversalAfterSustainedTrend(t *testing.T) {
	c := NewClassifier(Config{})
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := c.Classify("ETHUSDT", testVector(0.7, 0.4, 0.6, 0.5), at)
		require.NoError(t, err)
	}
	snap, err := c.Classify("ETHUSDT", testVector(0.4, 0.4, 0.6, -0.5), at)
	require.NoError(t, err)
	assert.Equal(t, models.RegimeReversal, snap.Regime)
}

func TestClassifyDeterministic(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := testVector(0.42, 0.55, 0.4, 0.2)

	a := NewClassifier(Config{})
	b := NewClassifier(Config{})
	s1, err := a.Classify("BTCUSDT", f, at)
	require.NoError(t, err)
	s2, err := b.Classify("BTCUSDT", f, at)
	require.NoError(t, err)
	assert.Equal(t, s1.Regime, s2.Regime)
	assert.Equal(t, s1.Confidence, s2.Confidence)
}

func TestClassifyRejectsMalformedInput(t *testing.T) {
	c := NewClassifier(Config{})
	_, err := c.Classify("BTCUSDT", testVector(math.NaN(), 0.4, 0.5, 0.1), time.Now())
	require.ErrorIs(t, err, models.ErrInvalidFeatureInput)

	_, err = c.Classify("BTCUSDT", testVector(0.1, -0.4, 0.5, 0.1), time.Now())
	require.ErrorIs(t, err, models.ErrInvalidFeatureInput)

	_, err = c.Classify("", testVector(0.1, 0.4, 0.5, 0.1), time.Now())
	require.ErrorIs(t, err, models.ErrInvalidFeatureInput)

	// Nothing malformed must ever update the current snapshot.
	_, ok := c.Current("BTCUSDT")
	assert.False(t, ok)
}

func TestCurrentReturnsLatestSnapshot(t *testing.T) {
	c := NewClassifier(Config{})
	at := time.Now().UTC()
	want, err := c.Classify("BTCUSDT", testVector(0.8, 0.4, 0.6, 0.3), at)
	require.NoError(t, err)

	got, ok := c.Current("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, want, got)
}
