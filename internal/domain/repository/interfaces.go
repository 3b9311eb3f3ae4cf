package repository

import (
	"context"

	"CascadeAdvisor/internal/domain/models"

	"github.com/shopspring/decimal"
)

// MarketStream delivers live trade prints for price tracking.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TickPublisher forwards ticks to a transport or sink.
type TickPublisher interface {
	Publish(ctx context.Context, t *models.PriceTick) error
	PublishBatch(ctx context.Context, ticks []*models.PriceTick) error
	Close() error
}

// PriceBook keeps the latest observed price per asset.
type PriceBook interface {
	Update(ctx context.Context, assetID string, price decimal.Decimal) error
	Latest(ctx context.Context, assetID string) (decimal.Decimal, bool, error)
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
