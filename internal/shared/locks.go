package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another request holds the critical section.
var ErrLockHeld = errors.New("lock held by another request")

// InvoiceLockKey builds redis keys serialising invoice generation per order.
func InvoiceLockKey(orderID string) string {
	return fmt.Sprintf("pos:order:%s:invoice:lock", orderID)
}

// KitchenLockKey builds redis keys serialising kitchen sends per order.
func KitchenLockKey(orderID string) string {
	return fmt.Sprintf("pos:order:%s:kitchen:lock", orderID)
}

// RedisLocker implements short-lived mutual exclusion on redis SET NX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the lock and returns the release func.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// only the holder may release; a lock that expired and was retaken stays
		val, err := l.client.Get(context.Background(), key).Result()
		if err == nil && val == token {
			_ = l.client.Del(context.Background(), key).Err()
		}
	}, nil
}
