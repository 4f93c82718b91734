package usecase

import (
	"context"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	drepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	mid "github.com/AgeeKey/mirai-agent-sub000/internal/middleware"
)

// FeatureCollector collects feature samples from the stream and feeds the
// classification pipeline.
type FeatureCollector struct {
	stream  drepo.FeatureStream
	proc    *SnapshotProcessor
	metrics drepo.Metrics
	pipe    *mid.FeaturePipeline
}

// NewFeatureCollector creates a new FeatureCollector instance.
func NewFeatureCollector(stream drepo.FeatureStream, proc *SnapshotProcessor, metrics drepo.Metrics, pipe *mid.FeaturePipeline) *FeatureCollector {
	return &FeatureCollector{stream: stream, proc: proc, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the feature stream is connected.
func (c *FeatureCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FeatureCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	sCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, sCh, errCh)
	return nil
}

func (c *FeatureCollector) consume(ctx context.Context, sCh <-chan *models.FeatureSample, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case s := <-sCh:
			if s == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, s)
			} else {
				_ = c.proc.Process(ctx, s)
			}
		}
	}
}

func (c *FeatureCollector) Stop() error { return c.stream.Close() }

// Shutdown stops the pipeline and closes the stream.
func (c *FeatureCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
