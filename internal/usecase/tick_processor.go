package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CascadeAdvisor/internal/domain/models"
	drepo "CascadeAdvisor/internal/domain/repository"
)

// Tick transports.
const (
	TransportDirect = "direct"
	TransportKafka  = "kafka"
)

// TickProcessor routes ticks either straight into the price book or to the
// publisher feeding the Kafka topic.
type TickProcessor struct {
	book      drepo.PriceBook
	pub       drepo.TickPublisher
	metrics   drepo.Metrics
	transport string
	assets    map[string]string
}

func NewTickProcessor(book drepo.PriceBook, pub drepo.TickPublisher, metrics drepo.Metrics, transport string, symbolAssets map[string]string) *TickProcessor {
	return &TickProcessor{book: book, pub: pub, metrics: metrics, transport: transport, assets: symbolAssets}
}

// AssetFor maps a feed symbol to the asset id used by signals.
func (p *TickProcessor) AssetFor(symbol string) string {
	if id, ok := p.assets[symbol]; ok {
		return id
	}
	return strings.ToUpper(symbol)
}

func (p *TickProcessor) Process(ctx context.Context, t *models.PriceTick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}
	start := time.Now()
	var err error

	switch p.transport {
	case TransportKafka:
		err = p.pub.Publish(ctx, t)
	case TransportDirect:
		err = p.book.Update(ctx, p.AssetFor(t.Symbol), t.Price)
	default:
		err = fmt.Errorf("unknown transport: %s", p.transport)
	}
	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process tick: %w", err)
	}

	p.metrics.RecordMessageSent(p.transport, t.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch handles ticks in one call. The direct transport keeps only the
// last price per asset.
func (p *TickProcessor) ProcessBatch(ctx context.Context, ticks []*models.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()

	switch p.transport {
	case TransportKafka:
		if err := p.pub.PublishBatch(ctx, ticks); err != nil {
			p.metrics.RecordError("process_batch")
			return fmt.Errorf("process batch: %w", err)
		}
	case TransportDirect:
		for _, t := range ticks {
			if err := p.book.Update(ctx, p.AssetFor(t.Symbol), t.Price); err != nil {
				p.metrics.RecordError("process_batch")
				return fmt.Errorf("process batch: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown transport: %s", p.transport)
	}

	for _, t := range ticks {
		p.metrics.RecordMessageSent(p.transport, t.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

func (p *TickProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
}
