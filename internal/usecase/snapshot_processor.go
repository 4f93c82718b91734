package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	drepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	pkgcache "github.com/AgeeKey/mirai-agent-sub000/pkg/cache"
)

// SnapshotProcessor classifies incoming feature samples and persists the
// resulting regime snapshots. A malformed sample never reaches storage; the
// previous snapshot stays current.
type SnapshotProcessor struct {
	classifier domsvc.RegimeClassifier
	store      drepo.SnapshotStore
	cache      pkgcache.Service
	metrics    drepo.Metrics
}

// NewSnapshotProcessor creates a new SnapshotProcessor instance. cache is
// optional; when present the latest snapshot per symbol is mirrored there
// for cheap reads.
func NewSnapshotProcessor(
	classifier domsvc.RegimeClassifier,
	store drepo.SnapshotStore,
	cache pkgcache.Service,
	metrics drepo.Metrics,
) *SnapshotProcessor {
	return &SnapshotProcessor{
		classifier: classifier,
		store:      store,
		cache:      cache,
		metrics:    metrics,
	}
}

// Process classifies one sample and appends the snapshot.
func (p *SnapshotProcessor) Process(ctx context.Context, s *models.FeatureSample) error {
	if s == nil {
		return fmt.Errorf("sample is nil")
	}

	start := time.Now()
	snap, err := p.classifier.Classify(s.Symbol, s.Features, s.Timestamp)
	if err != nil {
		p.metrics.RecordError("classify")
		return fmt.Errorf("classify %s: %w", s.Symbol, err)
	}

	if err := p.store.Append(ctx, snap); err != nil {
		p.metrics.RecordError("snapshot_store")
		return fmt.Errorf("store snapshot: %w", err)
	}

	if p.cache != nil {
		_ = p.cache.Set(ctx, "regime:"+snap.Symbol, snap, 5*time.Minute)
	}

	p.metrics.RecordRegime(snap.Symbol, string(snap.Regime))
	p.metrics.RecordLatency("classify_store", time.Since(start).Seconds())
	return nil
}
