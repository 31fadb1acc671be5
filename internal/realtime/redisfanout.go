package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFanout is the CrossProcess implementation letting multiple server
// instances share one room's websocket subscribers: a publish on one
// process's Hub is rebroadcast to every other process subscribed to the
// same room channel.
type RedisFanout struct {
	client *redis.Client
}

// NewRedisFanout creates a RedisFanout over an existing client.
func NewRedisFanout(client *redis.Client) *RedisFanout {
	return &RedisFanout{client: client}
}

// Publish implements CrossProcess.
func (f *RedisFanout) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := f.client.Publish(ctx, "realtime:"+channel, payload).Err(); err != nil {
		return fmt.Errorf("realtime.RedisFanout.Publish: %w", err)
	}
	return nil
}

// Subscribe implements CrossProcess, invoking onMessage for every payload
// received on channel until ctx is canceled.
func (f *RedisFanout) Subscribe(ctx context.Context, channel string, onMessage func([]byte)) {
	sub := f.client.Subscribe(ctx, "realtime:"+channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onMessage([]byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()
}
