package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
// Writes go to Redis first so L1 never holds a value other replicas cannot see.
// With an invalidation channel, deletes are published so peers drop their L1
// copies too.
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	memTTL     time.Duration

	channel  string
	sub      *redis.PubSub
	done     chan struct{}
	stopOnce sync.Once
}

// invalidation is the message published on the invalidation channel.
type invalidation struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	lc := &LayeredCache{
		memCache:   NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redisCache: redisCache,
		memTTL:     cfg.MemoryTTL,
	}
	if cfg.InvalidationChannel != "" {
		lc.listen(redisCache.wrapKey(cfg.InvalidationChannel))
	}
	return lc
}

// listen subscribes before returning so no delete published afterwards is missed.
func (lc *LayeredCache) listen(channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc.channel = channel
	lc.sub = lc.redisCache.client.Subscribe(ctx, channel)
	_, _ = lc.sub.Receive(ctx)
	lc.done = make(chan struct{})

	go func() {
		defer close(lc.done)
		for msg := range lc.sub.Channel() {
			var inv invalidation
			if err := decode([]byte(msg.Payload), &inv); err != nil {
				continue
			}
			if len(inv.Keys) > 0 {
				_ = lc.memCache.Delete(context.Background(), inv.Keys...)
			}
			if inv.Pattern != "" {
				_ = lc.memCache.DeleteByPattern(context.Background(), inv.Pattern)
			}
		}
	}()
}

func (lc *LayeredCache) publish(ctx context.Context, inv invalidation) error {
	if lc.sub == nil {
		return nil
	}
	data, err := encode(inv)
	if err != nil {
		return err
	}
	return lc.redisCache.client.Publish(ctx, lc.channel, data).Err()
}

// StopInvalidation ends the invalidation subscription. Safe to call more
// than once.
func (lc *LayeredCache) StopInvalidation() {
	if lc.sub == nil {
		return
	}
	lc.stopOnce.Do(func() {
		_ = lc.sub.Close()
		<-lc.done
	})
}

func (lc *LayeredCache) memoryTTL(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.memTTL {
		return lc.memTTL
	}
	return expiration
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.redisCache.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, data, lc.memoryTTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if err := lc.memCache.Get(ctx, key, &data); err == nil {
		return decode(data, dest)
	}

	if err := lc.redisCache.Get(ctx, key, &data); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, data, lc.memTTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_ = lc.memCache.Delete(ctx, keys...)
	if err := lc.redisCache.Delete(ctx, keys...); err != nil {
		return err
	}
	return lc.publish(ctx, invalidation{Keys: keys})
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.memCache.DeleteByPattern(ctx, pattern)
	if err := lc.redisCache.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	return lc.publish(ctx, invalidation{Pattern: pattern})
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.memCache.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.redisCache.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redisCache.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redisCache.Unlock(ctx, key)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	lc.StopInvalidation()
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
	_ Service = (*LayeredCache)(nil)
)
