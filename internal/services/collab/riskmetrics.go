package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
)

// RiskMetricsClient fetches live drawdown and exposure figures from the risk
// collaborator. Callers treat any error as "metrics unavailable" and fall
// back to conservative behavior.
type RiskMetricsClient struct {
	base *HTTPServiceBase
}

type riskSnapshotDTO struct {
	Strategy          string  `json:"strategy"`
	Symbol            string  `json:"symbol"`
	Timestamp         string  `json:"timestamp"`
	Drawdown24h       float64 `json:"drawdown_24h"`
	OpenExposure      float64 `json:"open_exposure"`
	RealizedVol       float64 `json:"realized_vol"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

func NewRiskMetricsClient(baseURL string, timeout time.Duration) *RiskMetricsClient {
	return &RiskMetricsClient{base: NewHTTPServiceBase(baseURL, timeout)}
}

func (c *RiskMetricsClient) Snapshot(ctx context.Context, strategy, symbol string) (models.RiskSnapshot, error) {
	var dto riskSnapshotDTO
	params := map[string][]string{
		"strategy": {strategy},
		"symbol":   {symbol},
	}
	if err := c.base.GetJSON(ctx, "/risk/snapshot", params, &dto); err != nil {
		return models.RiskSnapshot{StrategyName: strategy, Symbol: symbol, Available: false}, fmt.Errorf("risk snapshot: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, dto.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return models.RiskSnapshot{
		StrategyName:      strategy,
		Symbol:            symbol,
		Timestamp:         ts,
		Drawdown24h:       dto.Drawdown24h,
		OpenExposure:      dto.OpenExposure,
		RealizedVol:       dto.RealizedVol,
		ConsecutiveLosses: dto.ConsecutiveLosses,
		Available:         true,
	}, nil
}

var _ domrepo.RiskMetrics = (*RiskMetricsClient)(nil)
