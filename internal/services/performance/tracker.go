package performance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// Config tunes the tracker.
type Config struct {
	Window          time.Duration `yaml:"window"`           // default 48h
	MinSample       int           `yaml:"min_sample"`       // default 10
	StoreTimeout    time.Duration `yaml:"store_timeout"`    // default 5s
	RetryMax        int           `yaml:"retry_max"`        // insert attempts, default 3
	RetryBackoffMin time.Duration `yaml:"retry_backoff_min"` // default 100ms
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 48 * time.Hour
	}
	if c.MinSample <= 0 {
		c.MinSample = 10
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBackoffMin <= 0 {
		c.RetryBackoffMin = 100 * time.Millisecond
	}
}

// Tracker ingests TradeOutcome records and answers rolling-window
// performance queries keyed by (strategy, regime).
type Tracker struct {
	cfg         Config
	store       domrepo.OutcomeStore
	adaptations domrepo.AdaptationStore
	metrics     domrepo.Metrics
	l           *applogger.Logger
	now         func() time.Time
}

func NewTracker(cfg Config, store domrepo.OutcomeStore, metrics domrepo.Metrics, l *applogger.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{cfg: cfg, store: store, metrics: metrics, l: l, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// SetAdaptationLog attaches the adaptation history used to verify that an
// incoming outcome's adaptation_version names a real entry.
func (t *Tracker) SetAdaptationLog(s domrepo.AdaptationStore) { t.adaptations = s }

// Record appends one trade outcome. A repeated id fails with
// models.ErrDuplicateTrade so idempotent retries are safe. Storage failures
// are retried with bounded exponential backoff; exhaustion surfaces as a
// fatal ingestion error wrapping models.ErrStorageWrite, because a lost
// trade record corrupts downstream adaptation decisions.
func (t *Tracker) Record(ctx context.Context, out models.TradeOutcome) error {
	if out.ID == "" || out.StrategyName == "" {
		return fmt.Errorf("record trade: missing id or strategy")
	}
	t.checkAdaptationVersion(ctx, out)

	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
		defer cancel()
		if err := t.store.Insert(opCtx, out); err != nil {
			if errors.Is(err, models.ErrDuplicateTrade) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.RetryBackoffMin
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(t.cfg.RetryMax-1)), ctx))
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTrade) {
			if t.l != nil {
				t.l.Warn("duplicate trade outcome ignored",
					applogger.String("trade_id", out.ID),
					applogger.String("strategy", out.StrategyName),
				)
			}
			t.metrics.RecordError("duplicate_trade")
			return fmt.Errorf("record trade %s: %w", out.ID, models.ErrDuplicateTrade)
		}
		t.metrics.RecordError("outcome_insert")
		if t.l != nil {
			t.l.Error("trade outcome insert exhausted retries",
				applogger.String("trade_id", out.ID),
				applogger.String("strategy", out.StrategyName),
				applogger.Int("attempts", t.cfg.RetryMax),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("record trade %s: %w: %v", out.ID, models.ErrStorageWrite, err)
	}
	return nil
}

// checkAdaptationVersion verifies the outcome's adaptation_version against
// the adaptation log. An unknown version is a producer bug worth surfacing,
// but the trade itself is still recorded; dropping it would bias the
// performance window.
func (t *Tracker) checkAdaptationVersion(ctx context.Context, out models.TradeOutcome) {
	if out.AdaptationVersion == "" || t.adaptations == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
	defer cancel()
	hist, err := t.adaptations.History(opCtx, out.StrategyName, versionLookback)
	if err != nil {
		t.metrics.RecordError("adaptation_version_lookup")
		return
	}
	for _, a := range hist {
		if a.ID == out.AdaptationVersion {
			return
		}
	}
	t.metrics.RecordError("adaptation_version_unknown")
	if t.l != nil {
		t.l.Warn("trade outcome references unknown adaptation version",
			applogger.String("trade_id", out.ID),
			applogger.String("strategy", out.StrategyName),
			applogger.String("adaptation_version", out.AdaptationVersion),
		)
	}
}

// versionLookback caps how far back the version check searches the log.
const versionLookback = 500

// Summarize computes win rate, average P&L, max drawdown, and sample count
// over trades closed within [now-window, now]. A window with zero trades
// returns an empty summary, not an error. Below MinSample the summary is
// flagged low-confidence and the controller must not act on it.
func (t *Tracker) Summarize(ctx context.Context, strategy string, regime models.Regime, window time.Duration) (models.PerformanceSummary, error) {
	if window <= 0 {
		window = t.cfg.Window
	}
	to := t.now()
	from := to.Add(-window)

	opCtx, cancel := context.WithTimeout(ctx, t.cfg.StoreTimeout)
	defer cancel()
	trades, err := t.store.Window(opCtx, strategy, regime, from, to)
	if err != nil {
		return models.PerformanceSummary{}, fmt.Errorf("summarize %s/%s: %w", strategy, regime, err)
	}

	sum := models.PerformanceSummary{
		StrategyName: strategy,
		Regime:       regime,
		Window:       window,
		From:         from,
		To:           to,
		SampleCount:  len(trades),
	}
	if len(trades) == 0 {
		sum.LowConfidence = true
		return sum, nil
	}

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].TimestampClosed.Before(trades[j].TimestampClosed)
	})

	var wins int
	var total float64
	var cum, peak, maxDD float64
	for _, tr := range trades {
		if tr.PnL > 0 {
			wins++
		}
		total += tr.PnL
		cum += tr.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}

	sum.WinRate = float64(wins) / float64(len(trades))
	sum.AvgPnL = total / float64(len(trades))
	sum.MaxDrawdown = maxDD
	sum.LowConfidence = len(trades) < t.cfg.MinSample
	return sum, nil
}

var _ domsvc.PerformanceTracker = (*Tracker)(nil)
