package repository

import (
	"context"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	pkgkafka "CascadeAdvisor/pkg/kafka"
)

// KafkaTickPublisher writes ticks to a topic keyed by symbol, so one
// symbol always lands on one partition.
type KafkaTickPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.TickPublisher = (*KafkaTickPublisher)(nil)

func NewKafkaTickPublisher(producer *pkgkafka.Producer, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

func (p *KafkaTickPublisher) Publish(ctx context.Context, t *models.PriceTick) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), t)
}

func (p *KafkaTickPublisher) PublishBatch(ctx context.Context, ticks []*models.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(ticks))
	for _, t := range ticks {
		if t == nil || t.Symbol == "" {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(t.Symbol), Value: t})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaTickPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
