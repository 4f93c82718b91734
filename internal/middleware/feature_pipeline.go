package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	"github.com/AgeeKey/mirai-agent-sub000/internal/service/ratelimit"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, s *models.FeatureSample) error
}

// FeaturePipeline is a middleware between the feature stream and the
// classifier. It validates, throttles per symbol, and buffers when the
// downstream processor is unavailable.
type FeaturePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	logs    *applogger.LogCollector
	limiter *ratelimit.Limiter
	maxRPS  int
	bufSize int
	bufCh   chan *models.FeatureSample
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*FeaturePipeline)

// WithMaxRPS sets the max samples per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *FeaturePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *FeaturePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithLogCollector attaches a collector that aggregates drop warnings
// instead of emitting one log line per dropped sample.
func WithLogCollector(c *applogger.LogCollector) PipelineOption {
	return func(p *FeaturePipeline) { p.logs = c }
}

// NewFeaturePipeline creates a new pipeline.
func NewFeaturePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *FeaturePipeline {
	p := &FeaturePipeline{
		proc:    proc,
		metrics: metrics,
		limiter: ratelimit.New(),
		maxRPS:  20,   // default throttle per symbol
		bufSize: 1000, // default buffer
		bufCh:   make(chan *models.FeatureSample, 1000),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.FeatureSample, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered samples.
func (p *FeaturePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case s := <-p.bufCh:
				if s == nil {
					continue
				}
				if err := p.proc.Process(ctx, s); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- s:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
						p.note("pipeline_buffer_drop", s)
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *FeaturePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	if p.logs != nil {
		p.logs.Close()
	}
}

func (p *FeaturePipeline) note(cause string, s *models.FeatureSample) {
	if p.logs == nil {
		return
	}
	p.logs.AddLog("warn", "sample dropped", map[string]interface{}{
		"symbol": s.Symbol,
		"cause":  cause,
	}, "feature_pipeline")
}

// Process validates, throttles, and forwards a sample downstream, buffering on errors.
func (p *FeaturePipeline) Process(ctx context.Context, s *models.FeatureSample) error {
	start := time.Now()
	if err := validateSample(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.maxRPS > 0 && !p.limiter.Allow(s.Symbol, float64(p.maxRPS), float64(p.maxRPS)) {
		// throttled; record and drop silently
		p.metrics.RecordError("pipeline_throttle")
		p.note("pipeline_throttle", s)
		return nil
	}

	if err := p.proc.Process(ctx, s); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- s:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			p.note("pipeline_buffer_full", s)
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateSample(s *models.FeatureSample) error {
	if s == nil {
		return fmt.Errorf("sample nil")
	}
	if s.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	return s.Features.Validate()
}
