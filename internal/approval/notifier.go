package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType names an approval transition.
type EventType string

// Published events.
const (
	EventOpened   EventType = "approval.opened"
	EventResolved EventType = "approval.resolved"
)

// Event is published on every request transition for the notification layer.
type Event struct {
	Type       EventType `json:"type"`
	Request    *Request  `json:"request"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes approval events. Delivery is someone else's concern.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// NoopNotifier discards events.
type NoopNotifier struct{}

// Publish does nothing.
func (NoopNotifier) Publish(context.Context, Event) error { return nil }

// RedisNotifier publishes events as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Publish sends the event to the channel.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode approval event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish approval event: %w", err)
	}
	return nil
}
