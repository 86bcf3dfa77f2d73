package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// FailureRecorder counts publication failures.
type FailureRecorder interface {
	PublishFailed(event string)
}

// RedisPublisher publishes events on the branch channel.
type RedisPublisher struct {
	client  *redis.Client
	metrics FailureRecorder
}

// NewRedisPublisher constructs RedisPublisher.
func NewRedisPublisher(client *redis.Client, metrics FailureRecorder) *RedisPublisher {
	return &RedisPublisher{client: client, metrics: metrics}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(evt.Branch), data).Err(); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailed(evt.Type)
		}
		return fmt.Errorf("realtime: publish %s: %w", evt.Type, err)
	}
	return nil
}

// Relay forwards every branch channel into the hub until ctx is done.
func Relay(ctx context.Context, client *redis.Client, hub *Hub, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sub := client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn("realtime: drop malformed event", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			hub.Broadcast(branchFromChannel(msg.Channel), evt)
		}
	}
}
