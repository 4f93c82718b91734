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

// CHActivationStore implements ActivationStore backed by ClickHouse. Rows are
// never deleted; expired activations fall out of ActiveAt by window filter.
type CHActivationStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHActivationStore(ch *pkgch.Client) *CHActivationStore {
	return &CHActivationStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHActivationStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHActivationStore) Append(ctx context.Context, a models.SafetyActivation) error {
	const q = `
        INSERT INTO mirai.safety_activations
            (id, rule, event_id, symbol, strategy, action, activated_at, expires_at, reason)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, q,
		a.ID,
		a.RuleName,
		a.TriggeringEventID,
		a.Symbol,
		a.StrategyName,
		string(a.Action),
		a.ActivatedAt,
		a.ExpiresAt,
		a.Reason,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse activation insert error",
				applogger.String("rule", a.RuleName),
				applogger.String("action", string(a.Action)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("append activation: %w", err)
	}
	return nil
}

func (s *CHActivationStore) ActiveAt(ctx context.Context, key string, at time.Time) ([]models.SafetyActivation, error) {
	const q = `
        SELECT id, rule, event_id, symbol, strategy, action, activated_at, expires_at, reason
        FROM mirai.safety_activations
        WHERE (symbol = ? OR strategy = ?) AND activated_at <= ? AND expires_at > ?
        ORDER BY activated_at ASC
    `
	return s.query(ctx, q, key, key, at, at)
}

func (s *CHActivationStore) History(ctx context.Context, key string, limit int) ([]models.SafetyActivation, error) {
	const q = `
        SELECT id, rule, event_id, symbol, strategy, action, activated_at, expires_at, reason
        FROM mirai.safety_activations
        WHERE symbol = ? OR strategy = ?
        ORDER BY activated_at DESC
        LIMIT ?
    `
	return s.query(ctx, q, key, key, limit)
}

func (s *CHActivationStore) query(ctx context.Context, q string, args ...interface{}) ([]models.SafetyActivation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse activation query error", applogger.Error(err))
		}
		return nil, fmt.Errorf("activation query: %w", err)
	}
	defer rows.Close()

	out := make([]models.SafetyActivation, 0, 16)
	for rows.Next() {
		var (
			a      models.SafetyActivation
			action string
		)
		if err := rows.Scan(&a.ID, &a.RuleName, &a.TriggeringEventID, &a.Symbol, &a.StrategyName, &action, &a.ActivatedAt, &a.ExpiresAt, &a.Reason); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		a.Action = models.SafetyAction(action)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
