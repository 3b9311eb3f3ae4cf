package repository

import (
	"context"
	"testing"

	"CascadeAdvisor/internal/domain/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPriceBook(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	book := NewRedisPriceBook(client, "test")

	_, ok, err := book.Latest(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, book.Update(ctx, "BTC", decimal.RequireFromString("64250.125")))
	require.NoError(t, book.Update(ctx, "BTC", decimal.RequireFromString("64300.5")))

	p, ok, err := book.Latest(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "64300.5", p.String())
	assert.Equal(t, "64300.5", s.HGet("test:prices", "BTC"))
}

func TestRedisPriceBook_CorruptValue(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s.HSet("test:prices", "ETH", "not-a-number")
	_, _, err := NewRedisPriceBook(client, "test").Latest(context.Background(), "ETH")
	assert.Error(t, err)
}

func TestAuditListQuery(t *testing.T) {
	q, args := auditListQuery(models.AuditFilter{EntityType: "signal", ActorID: "admin"})
	assert.Contains(t, q, "WHERE entity_type = ? AND actor_id = ?")
	assert.Contains(t, q, "ORDER BY ts DESC LIMIT ?")
	assert.Equal(t, []any{"signal", "admin", 100}, args)

	q, args = auditListQuery(models.AuditFilter{Limit: 5})
	assert.NotContains(t, q, "WHERE")
	assert.Equal(t, []any{5}, args)
}
