package sendjob

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// WakeChannel is the pub/sub channel idle workers listen on.
const WakeChannel = "phishsense:send-jobs:wake"

// Notifier tells idle workers that a job was enqueued. It is a hint only;
// workers poll regardless.
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

// RedisNotifier publishes the job id on WakeChannel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on WakeChannel.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: WakeChannel}
}

func (n *RedisNotifier) Notify(ctx context.Context, jobID string) error {
	if err := n.client.Publish(ctx, n.channel, jobID).Err(); err != nil {
		return fmt.Errorf("publish wake-up: %w", err)
	}
	return nil
}
