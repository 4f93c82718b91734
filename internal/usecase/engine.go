package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// StrategyTarget names one strategy under engine control.
type StrategyTarget struct {
	Name   string
	Symbol string
}

// EngineConfig tunes the evaluation loop.
type EngineConfig struct {
	TickInterval  time.Duration // default 60s
	SummaryWindow time.Duration // default 48h
}

func (c *EngineConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.SummaryWindow <= 0 {
		c.SummaryWindow = 48 * time.Hour
	}
}

// Engine drives the periodic evaluation cycle: once per interval and per
// strategy it reads the current regime, summarizes performance, lets the
// adaptation controller act, and re-evaluates the safety rules. A tick that
// fires while the previous one for the same strategy is still running is
// skipped, never queued.
type Engine struct {
	cfg        EngineConfig
	targets    []StrategyTarget
	classifier domsvc.RegimeClassifier
	tracker    domsvc.PerformanceTracker
	controller domsvc.AdaptationController
	safety     domsvc.SafetyEngine
	reduceFrac float64
	metrics    domrepo.Metrics
	l          *applogger.Logger

	inFlight map[string]*atomic.Bool
	wg       sync.WaitGroup

	sumMu     sync.Mutex
	summaries map[string]models.PerformanceSummary // last good summary per strategy|regime
}

func NewEngine(
	cfg EngineConfig,
	targets []StrategyTarget,
	classifier domsvc.RegimeClassifier,
	tracker domsvc.PerformanceTracker,
	controller domsvc.AdaptationController,
	safety domsvc.SafetyEngine,
	reduceFraction float64,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Engine {
	cfg.applyDefaults()
	if reduceFraction <= 0 || reduceFraction > 1 {
		reduceFraction = 0.5
	}
	inFlight := make(map[string]*atomic.Bool, len(targets))
	for _, t := range targets {
		inFlight[t.Name] = &atomic.Bool{}
	}
	return &Engine{
		cfg:        cfg,
		targets:    targets,
		classifier: classifier,
		tracker:    tracker,
		controller: controller,
		safety:     safety,
		reduceFrac: reduceFraction,
		metrics:    metrics,
		l:          l,
		inFlight:   inFlight,
		summaries:  make(map[string]models.PerformanceSummary),
	}
}

// Run starts one evaluation loop per strategy and blocks until ctx is
// canceled and all in-flight ticks have drained.
func (e *Engine) Run(ctx context.Context) {
	for _, t := range e.targets {
		e.wg.Add(1)
		go e.loop(ctx, t)
	}
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context, target StrategyTarget) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	// run one cycle immediately so a restart does not wait a full interval
	e.dispatch(ctx, target)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatch(ctx, target)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, target StrategyTarget) {
	flag := e.inFlight[target.Name]
	if !flag.CompareAndSwap(false, true) {
		e.metrics.RecordTick(target.Name, "skipped")
		if e.l != nil {
			e.l.Warn("tick_skipped_overrun",
				applogger.String("strategy", target.Name),
				applogger.String("symbol", target.Symbol),
			)
		}
		return
	}
	e.wg.Add(1)
	// A tick caught mid-flight by shutdown must still land its store writes;
	// Run waits on the WaitGroup, so the detached context cannot leak work.
	tickCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		defer flag.Store(false)
		e.tick(tickCtx, target)
	}()
}

func (e *Engine) tick(ctx context.Context, target StrategyTarget) {
	start := time.Now()
	now := start

	snap, ok := e.classifier.Current(target.Symbol)
	if !ok {
		// no features seen yet; safety still runs on calendar and risk data
		if _, err := e.safety.Evaluate(ctx, target.Name, target.Symbol, now); err != nil {
			e.metrics.RecordError("safety_evaluate")
		}
		e.metrics.RecordTick(target.Name, "no_regime")
		return
	}

	result := "ok"
	sumKey := target.Name + "|" + string(snap.Regime)
	summary, err := e.tracker.Summarize(ctx, target.Name, snap.Regime, e.cfg.SummaryWindow)
	if err != nil {
		e.metrics.RecordError("summarize")
		result = "degraded"
		if e.l != nil {
			e.l.Warn("performance summary failed",
				applogger.String("strategy", target.Name),
				applogger.Error(err),
			)
		}
		// fall back to the last good summary for this strategy and regime
		e.sumMu.Lock()
		cached, hasCached := e.summaries[sumKey]
		e.sumMu.Unlock()
		if hasCached {
			if _, err := e.controller.Evaluate(ctx, target.Name, snap, cached); err != nil {
				e.metrics.RecordError("adaptation_evaluate")
			}
		}
	} else {
		e.sumMu.Lock()
		e.summaries[sumKey] = summary
		e.sumMu.Unlock()
		if _, err := e.controller.Evaluate(ctx, target.Name, snap, summary); err != nil {
			e.metrics.RecordError("adaptation_evaluate")
			if e.l != nil {
				e.l.Error("adaptation evaluate failed",
					applogger.String("strategy", target.Name),
					applogger.Error(err),
				)
			}
		}
	}

	// Safety runs every tick regardless of the performance path above.
	if _, err := e.safety.Evaluate(ctx, target.Name, target.Symbol, now); err != nil {
		e.metrics.RecordError("safety_evaluate")
		if e.l != nil {
			e.l.Error("safety evaluate failed",
				applogger.String("strategy", target.Name),
				applogger.String("symbol", target.Symbol),
				applogger.Error(err),
			)
		}
	}

	e.metrics.RecordTick(target.Name, result)
	e.metrics.RecordLatency("tick", time.Since(start).Seconds())
}

// SizeMultiplier resolves the position-size factor for a strategy right now:
// the most restrictive safety action across the strategy and symbol keys,
// composed multiplicatively on the adaptation-derived size. Halting actions
// zero the size; REDUCE_EXPOSURE scales it down.
func (e *Engine) SizeMultiplier(ctx context.Context, strategy, symbol string, at time.Time) (float64, models.SafetyAction, error) {
	stratAct, err := e.safety.EffectiveAction(ctx, strategy, at)
	if err != nil {
		return 0, models.ActionNone, err
	}
	symAct, err := e.safety.EffectiveAction(ctx, symbol, at)
	if err != nil {
		return 0, models.ActionNone, err
	}
	act := models.MoreRestrictive(stratAct, symAct)
	switch act {
	case models.ActionHaltTrading, models.ActionEmergencyExit, models.ActionBlackout:
		return 0, act, nil
	case models.ActionReduceExposure:
		return e.reduceFrac, act, nil
	default:
		return 1, act, nil
	}
}

// Targets reports the strategies under engine control.
func (e *Engine) Targets() []StrategyTarget { return e.targets }
