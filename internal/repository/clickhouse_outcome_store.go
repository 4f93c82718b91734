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

// CHOutcomeStore implements OutcomeStore backed by ClickHouse. Insert rejects
// a repeated trade id with models.ErrDuplicateTrade; rows are never updated.
type CHOutcomeStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHOutcomeStore(ch *pkgch.Client) *CHOutcomeStore {
	return &CHOutcomeStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHOutcomeStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHOutcomeStore) Insert(ctx context.Context, t models.TradeOutcome) error {
	dup, err := s.Exists(ctx, t.ID)
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("trade %s: %w", t.ID, models.ErrDuplicateTrade)
	}
	const q = `
        INSERT INTO mirai.trade_outcomes
            (id, ts_closed, symbol, strategy, entry_price, exit_price, quantity, pnl,
             duration_ms, regime_at_entry, vol_at_entry, confidence_at_entry, adaptation_version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, q,
		t.ID,
		t.TimestampClosed,
		t.Symbol,
		t.StrategyName,
		t.EntryPrice,
		t.ExitPrice,
		t.Quantity,
		t.PnL,
		t.Duration.Milliseconds(),
		string(t.RegimeAtEntry),
		t.VolatilityAtEntry,
		t.ConfidenceAtEntry,
		t.AdaptationVersion,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse outcome insert error",
				applogger.String("id", t.ID),
				applogger.String("strategy", t.StrategyName),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *CHOutcomeStore) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT count() FROM mirai.trade_outcomes WHERE id = ?`
	var n uint64
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return false, fmt.Errorf("outcome exists: %w", err)
	}
	return n > 0, nil
}

func (s *CHOutcomeStore) Window(ctx context.Context, strategy string, regime models.Regime, from, to time.Time) ([]models.TradeOutcome, error) {
	start := time.Now()
	const q = `
        SELECT id, ts_closed, symbol, strategy, entry_price, exit_price, quantity, pnl,
               duration_ms, regime_at_entry, vol_at_entry, confidence_at_entry, adaptation_version
        FROM mirai.trade_outcomes
        WHERE strategy = ? AND regime_at_entry = ? AND ts_closed >= ? AND ts_closed <= ?
        ORDER BY ts_closed ASC
    `
	rows, err := s.db.QueryContext(ctx, q, strategy, string(regime), from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse outcome window query error",
				applogger.String("strategy", strategy),
				applogger.String("regime", string(regime)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("outcome window: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeOutcome, 0, 128)
	for rows.Next() {
		var (
			t          models.TradeOutcome
			durationMS int64
			regimeStr  string
		)
		if err := rows.Scan(
			&t.ID, &t.TimestampClosed, &t.Symbol, &t.StrategyName,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL,
			&durationMS, &regimeStr, &t.VolatilityAtEntry,
			&t.ConfidenceAtEntry, &t.AdaptationVersion,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		t.Duration = time.Duration(durationMS) * time.Millisecond
		t.RegimeAtEntry = models.Regime(regimeStr)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse outcome window ok",
			applogger.String("strategy", strategy),
			applogger.String("regime", string(regime)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}
