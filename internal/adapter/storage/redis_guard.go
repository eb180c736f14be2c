package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	deliveredKeyPrefix = "outbox:delivered:"
	defaultDeliveryTTL = 24 * time.Hour
)

var _ port.DeliveryGuard = (*RedisGuard)(nil)

// RedisGuard remembers acknowledged event ids so a record whose delivered
// mark was lost is not published twice while the key lives.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func DeliveredKey(eventID string) string {
	return deliveredKeyPrefix + eventID
}

func (r *RedisGuard) Delivered(ctx context.Context, eventID string) (bool, error) {
	_, err := r.client.Get(ctx, DeliveredKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisGuard) MarkDelivered(ctx context.Context, eventID string) error {
	return r.client.SetNX(ctx, DeliveredKey(eventID), 1, r.ttl).Err()
}
