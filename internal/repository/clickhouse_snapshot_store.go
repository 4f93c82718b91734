package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	pkgch "github.com/AgeeKey/mirai-agent-sub000/pkg/clickhouse"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// CHSnapshotStore implements SnapshotStore backed by ClickHouse. Rows are
// append-only; retention is handled by the table TTL.
type CHSnapshotStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) Append(ctx context.Context, snap models.MarketRegimeSnapshot) error {
	const q = `
        INSERT INTO mirai.regime_snapshots
            (symbol, ts, regime, trend_strength, realized_vol, range_compression, momentum, confidence)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, q,
		snap.Symbol,
		snap.Timestamp,
		string(snap.Regime),
		snap.Features.TrendStrength,
		snap.Features.RealizedVol,
		snap.Features.RangeCompression,
		snap.Features.Momentum,
		snap.Confidence,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse snapshot insert error",
				applogger.String("symbol", snap.Symbol),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (s *CHSnapshotStore) Latest(ctx context.Context, symbol string) (models.MarketRegimeSnapshot, error) {
	const q = `
        SELECT symbol, ts, regime, trend_strength, realized_vol, range_compression, momentum, confidence
        FROM mirai.regime_snapshots
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT 1
    `
	var (
		snap   models.MarketRegimeSnapshot
		regime string
	)
	err := s.db.QueryRowContext(ctx, q, symbol).Scan(
		&snap.Symbol, &snap.Timestamp, &regime,
		&snap.Features.TrendStrength, &snap.Features.RealizedVol,
		&snap.Features.RangeCompression, &snap.Features.Momentum,
		&snap.Confidence,
	)
	if err != nil {
		return models.MarketRegimeSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.Regime = models.Regime(regime)
	return snap, nil
}

func (s *CHSnapshotStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]models.MarketRegimeSnapshot, error) {
	start := time.Now()
	const q = `
        SELECT symbol, ts, regime, trend_strength, realized_vol, range_compression, momentum, confidence
        FROM mirai.regime_snapshots
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse snapshot range query error",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("snapshot range: %w", err)
	}
	defer rows.Close()

	out := make([]models.MarketRegimeSnapshot, 0, 256)
	for rows.Next() {
		var (
			snap   models.MarketRegimeSnapshot
			regime string
		)
		if err := rows.Scan(
			&snap.Symbol, &snap.Timestamp, &regime,
			&snap.Features.TrendStrength, &snap.Features.RealizedVol,
			&snap.Features.RangeCompression, &snap.Features.Momentum,
			&snap.Confidence,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Regime = models.Regime(regime)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse snapshot range ok",
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
