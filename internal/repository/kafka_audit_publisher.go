package repository

import (
	"context"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	pkgkafka "github.com/AgeeKey/mirai-agent-sub000/pkg/kafka"
)

// KafkaAuditPublisher implements AuditPublisher for Kafka. Adaptation and
// activation records share one audit topic, keyed by strategy or rule so
// per-key ordering survives partitioning.
type KafkaAuditPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaAuditPublisher creates a Kafka audit publisher.
func NewKafkaAuditPublisher(producer *pkgkafka.Producer, topic string) repository.AuditPublisher {
	return &KafkaAuditPublisher{producer: producer, topic: topic}
}

func (p *KafkaAuditPublisher) PublishAdaptation(ctx context.Context, a models.StrategyAdaptation) error {
	return p.producer.Publish(ctx, p.topic, []byte(a.StrategyName), map[string]interface{}{
		"kind":   "adaptation",
		"record": a,
	})
}

func (p *KafkaAuditPublisher) PublishActivation(ctx context.Context, a models.SafetyActivation) error {
	key := a.Symbol
	if key == "" {
		key = a.StrategyName
	}
	return p.producer.Publish(ctx, p.topic, []byte(key), map[string]interface{}{
		"kind":   "activation",
		"record": a,
	})
}

func (p *KafkaAuditPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaAuditPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
