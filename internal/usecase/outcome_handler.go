package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
	pkgkafka "github.com/AgeeKey/mirai-agent-sub000/pkg/kafka"
)

// KafkaOutcomeHandler consumes closed-trade reports from Kafka and feeds the
// performance tracker. A duplicate report is acknowledged without effect; a
// storage-write failure is returned so the consumer retries and eventually
// dead-letters the message.
type KafkaOutcomeHandler struct {
	topic   string
	tracker domsvc.PerformanceTracker
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewKafkaOutcomeHandler(topic string, tracker domsvc.PerformanceTracker, metrics domrepo.Metrics, l *applogger.Logger) *KafkaOutcomeHandler {
	return &KafkaOutcomeHandler{topic: topic, tracker: tracker, metrics: metrics, l: l}
}

func (h *KafkaOutcomeHandler) Topic() string { return h.topic }

func (h *KafkaOutcomeHandler) Handle(ctx context.Context, b []byte) error {
	var out models.TradeOutcome
	if err := json.Unmarshal(b, &out); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if out.ID == "" || out.StrategyName == "" {
		h.metrics.RecordError("consumer_invalid")
		if h.l != nil {
			h.l.Warn("outcome missing id or strategy, dropped",
				applogger.String("id", out.ID),
				applogger.String("strategy", out.StrategyName),
			)
		}
		return nil
	}

	start := time.Now()
	err := h.tracker.Record(ctx, out)
	h.metrics.RecordLatency("outcome_record_seconds", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTrade) {
			// replays are expected; ack without effect
			return nil
		}
		h.metrics.RecordError("consumer_record")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaOutcomeHandler)(nil)
