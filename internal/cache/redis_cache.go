package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/internal/domain"
)

type RedisReconciliationCache struct {
	client *redis.Client
}

func NewRedisReconciliationCache(client *redis.Client) *RedisReconciliationCache {
	return &RedisReconciliationCache{client: client}
}

func (c *RedisReconciliationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReconciliationCache) Get(ctx context.Context, key string) (*domain.ReconciliationSummary, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.ReconciliationSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisReconciliationCache) Set(ctx context.Context, key string, value *domain.ReconciliationSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisReconciliationCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
