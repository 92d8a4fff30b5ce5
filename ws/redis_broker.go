package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"social_backend/internal/logger"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "chat:events"

// RedisBroker publishes envelopes as JSON on one pub/sub channel. Every
// instance subscribes and delivers to its own connections. The client is
// owned by the caller.
type RedisBroker struct {
	rdb     redis.UniversalClient
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

func NewRedisBroker(rdb redis.UniversalClient, channel string) *RedisBroker {
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisBroker{rdb: rdb, channel: channel}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	if b.pubsub != nil {
		return errors.New("redis broker already subscribed")
	}

	ps := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.pubsub = ps

	go func() {
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("Dropping malformed envelope", "channel", b.channel, "error", err)
				continue
			}
			handler(env)
		}
	}()
	return nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
