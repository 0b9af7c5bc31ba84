package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

// WakeListener turns enqueue notifications on Redis into wake-ups for the
// send worker loop.
type WakeListener struct {
	client *redis.Client
	log    *logger.Logger
}

// NewWakeListener creates a listener on the send-job wake channel.
func NewWakeListener(client *redis.Client) *WakeListener {
	return &WakeListener{client: client, log: logger.With("component", "wake_listener")}
}

// Listen subscribes and returns a channel that receives a value whenever a
// job is enqueued. Bursts collapse into one pending wake-up. The channel is
// closed when ctx ends or the subscription drops.
func (w *WakeListener) Listen(ctx context.Context) (<-chan struct{}, error) {
	sub := w.client.Subscribe(ctx, sendjob.WakeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sendjob.WakeChannel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					w.log.Warn("wake subscription closed")
					return
				}
				w.log.Debug("wake-up received", "job_id", msg.Payload)
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
