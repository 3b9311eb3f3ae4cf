package memory

import (
	"context"
	"sync"

	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/shopspring/decimal"
)

type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

var _ domrepo.PriceBook = (*PriceBook)(nil)

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]decimal.Decimal)}
}

func (b *PriceBook) Update(_ context.Context, assetID string, price decimal.Decimal) error {
	b.mu.Lock()
	b.prices[assetID] = price
	b.mu.Unlock()
	return nil
}

func (b *PriceBook) Latest(_ context.Context, assetID string) (decimal.Decimal, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[assetID]
	return p, ok, nil
}
