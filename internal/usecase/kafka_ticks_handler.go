package usecase

import (
	"context"
	"encoding/json"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	pkgkafka "CascadeAdvisor/pkg/kafka"
)

// KafkaTicksHandler consumes ticks published to Kafka and updates the price book.
type KafkaTicksHandler struct {
	topic   string
	proc    *TickProcessor
	book    domrepo.PriceBook
	metrics domrepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)

func NewKafkaTicksHandler(topic string, proc *TickProcessor, book domrepo.PriceBook, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, proc: proc, book: book, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var t models.PriceTick
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if !t.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Timestamp).Seconds())
	}

	start := time.Now()
	if err := h.book.Update(ctx, h.proc.AssetFor(t.Symbol), t.Price); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("price_book_update_seconds", time.Since(start).Seconds())
	h.metrics.RecordMessageSent("price_book", t.Symbol)
	return nil
}
