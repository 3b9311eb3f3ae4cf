package repository

import (
	"context"
	"errors"
	"fmt"

	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisPriceBook keeps the latest price per asset in one hash so every
// replica reads the same book.
type RedisPriceBook struct {
	client *redis.Client
	key    string
}

var _ domrepo.PriceBook = (*RedisPriceBook)(nil)

func NewRedisPriceBook(client *redis.Client, prefix string) *RedisPriceBook {
	return &RedisPriceBook{client: client, key: prefix + ":prices"}
}

func (b *RedisPriceBook) Update(ctx context.Context, assetID string, price decimal.Decimal) error {
	if err := b.client.HSet(ctx, b.key, assetID, price.String()).Err(); err != nil {
		return fmt.Errorf("price book update %s: %w", assetID, err)
	}
	return nil
}

func (b *RedisPriceBook) Latest(ctx context.Context, assetID string) (decimal.Decimal, bool, error) {
	v, err := b.client.HGet(ctx, b.key, assetID).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price book read %s: %w", assetID, err)
	}
	p, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price book parse %s: %w", assetID, err)
	}
	return p, true, nil
}
