package floor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKeyTTL = 48 * time.Hour

// QueueNumbers hands out per-branch queue numbers that restart every day.
type QueueNumbers struct {
	client *redis.Client
}

// NewQueueNumbers constructs QueueNumbers.
func NewQueueNumbers(client *redis.Client) *QueueNumbers {
	return &QueueNumbers{client: client}
}

// QueueKey returns the counter key of a branch for the calendar day of now.
func QueueKey(branch string, now time.Time) string {
	return fmt.Sprintf("pos:queue:%s:%s", branch, now.Format("2006-01-02"))
}

// Next increments and returns the branch counter for the day of now.
func (q *QueueNumbers) Next(ctx context.Context, branch string, now time.Time) (int64, error) {
	if q == nil || q.client == nil {
		return 0, nil
	}
	key := QueueKey(branch, now)
	var incr *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, queueKeyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("floor: next queue number: %w", err)
	}
	return incr.Val(), nil
}
