package approval

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNoopNotifier(t *testing.T) {
	if err := (NoopNotifier{}).Publish(context.Background(), Event{Type: EventOpened}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestRedisNotifier_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	n := NewRedisNotifier(client, "caregov:approvals")
	err := n.Publish(context.Background(), Event{Type: EventOpened, Request: &Request{ID: "r1"}, OccurredAt: time.Now()})
	if err == nil {
		t.Error("Publish() should fail when Redis is unreachable")
	}
}
