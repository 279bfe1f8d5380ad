package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroadcaster fans events out across processes via Redis pub/sub.
// Redis pub/sub gives at-most-once transport per connection; combined with
// publisher retries the observable contract for consumers is at-least-once
// with possible duplicates and no replay of missed events.
type RedisBroadcaster struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBroadcaster wraps the Redis client with a channel prefix.
func NewRedisBroadcaster(client *redis.Client, prefix string, logger *zap.Logger) *RedisBroadcaster {
	if prefix == "" {
		prefix = "demands.events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, prefix: prefix, logger: logger}
}

func (b *RedisBroadcaster) channel(topic string) string {
	return b.prefix + "." + topic
}

// Publish marshals the event and publishes it on the topic channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(topic), payload).Err()
}

// Subscribe opens a Redis subscription and pumps decoded events into the
// handler until unsubscribed.
func (b *RedisBroadcaster) Subscribe(topic string, handler Handler) (func(), error) {
	pubsub := b.client.Subscribe(context.Background(), b.channel(topic))
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("broadcast message decode failed",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handler(evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Warn("broadcast unsubscribe failed", zap.Error(err))
			}
		})
	}, nil
}

// Close closes all open subscriptions.
func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	return nil
}
