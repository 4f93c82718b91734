package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	pkgch "github.com/AgeeKey/mirai-agent-sub000/pkg/clickhouse"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// CHAdaptationStore implements AdaptationStore backed by ClickHouse. The log
// is append-only; the latest row per strategy defines effective parameters.
// Parameter maps and nested summaries are stored as JSON columns.
type CHAdaptationStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHAdaptationStore(ch *pkgch.Client) *CHAdaptationStore {
	return &CHAdaptationStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHAdaptationStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHAdaptationStore) Append(ctx context.Context, a models.StrategyAdaptation) error {
	prev, err := json.Marshal(a.PreviousParameters)
	if err != nil {
		return fmt.Errorf("marshal previous parameters: %w", err)
	}
	next, err := json.Marshal(a.NewParameters)
	if err != nil {
		return fmt.Errorf("marshal new parameters: %w", err)
	}
	features, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	perf, err := json.Marshal(a.PerformanceBefore)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}

	const q = `
        INSERT INTO mirai.adaptations
            (id, ts, strategy, prev_params, new_params, regime, features, perf_before, reason, confidence)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, q,
		a.ID,
		a.Timestamp,
		a.StrategyName,
		string(prev),
		string(next),
		string(a.Regime),
		string(features),
		string(perf),
		string(a.Reason),
		a.Confidence,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse adaptation insert error",
				applogger.String("id", a.ID),
				applogger.String("strategy", a.StrategyName),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("append adaptation: %w", err)
	}
	return nil
}

func (s *CHAdaptationStore) Latest(ctx context.Context, strategy string) (models.StrategyAdaptation, bool, error) {
	const q = `
        SELECT id, ts, strategy, prev_params, new_params, regime, features, perf_before, reason, confidence
        FROM mirai.adaptations
        WHERE strategy = ?
        ORDER BY ts DESC
        LIMIT 1
    `
	a, err := scanAdaptation(s.db.QueryRowContext(ctx, q, strategy))
	if err == sql.ErrNoRows {
		return models.StrategyAdaptation{}, false, nil
	}
	if err != nil {
		return models.StrategyAdaptation{}, false, fmt.Errorf("latest adaptation: %w", err)
	}
	return a, true, nil
}

func (s *CHAdaptationStore) History(ctx context.Context, strategy string, limit int) ([]models.StrategyAdaptation, error) {
	const q = `
        SELECT id, ts, strategy, prev_params, new_params, regime, features, perf_before, reason, confidence
        FROM mirai.adaptations
        WHERE strategy = ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, strategy, limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse adaptation history query error",
				applogger.String("strategy", strategy),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("adaptation history: %w", err)
	}
	defer rows.Close()

	out := make([]models.StrategyAdaptation, 0, limit)
	for rows.Next() {
		a, err := scanAdaptation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adaptation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAdaptation(r rowScanner) (models.StrategyAdaptation, error) {
	var (
		a                          models.StrategyAdaptation
		prev, next, features, perf string
		regime, reason             string
	)
	if err := r.Scan(&a.ID, &a.Timestamp, &a.StrategyName, &prev, &next, &regime, &features, &perf, &reason, &a.Confidence); err != nil {
		return models.StrategyAdaptation{}, err
	}
	a.Regime = models.Regime(regime)
	a.Reason = models.AdaptationReason(reason)
	if err := json.Unmarshal([]byte(prev), &a.PreviousParameters); err != nil {
		return models.StrategyAdaptation{}, fmt.Errorf("unmarshal previous parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(next), &a.NewParameters); err != nil {
		return models.StrategyAdaptation{}, fmt.Errorf("unmarshal new parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &a.Features); err != nil {
		return models.StrategyAdaptation{}, fmt.Errorf("unmarshal features: %w", err)
	}
	if err := json.Unmarshal([]byte(perf), &a.PerformanceBefore); err != nil {
		return models.StrategyAdaptation{}, fmt.Errorf("unmarshal performance: %w", err)
	}
	return a, nil
}
