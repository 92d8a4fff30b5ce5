package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrBrokerClosed = errors.New("broker closed")

type Target string

const (
	TargetAll   Target = "all"
	TargetRoom  Target = "room"
	TargetUsers Target = "users"
	TargetConn  Target = "conn"
)

// Envelope is one already-encoded frame plus its audience. It crosses
// process boundaries when the Redis broker is in use.
type Envelope struct {
	Target      Target          `json:"target"`
	ChatID      uint            `json:"chatId,omitempty"`
	ExcludeConn string          `json:"excludeConn,omitempty"`
	UserIDs     []uint          `json:"userIds,omitempty"`
	ConnID      string          `json:"connId,omitempty"`
	Frame       json.RawMessage `json:"frame"`
}

// Broker fans envelopes out to every hub instance. Subscribe returns once
// deliveries are flowing; handler is then called for each envelope in
// publish order.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handler func(Envelope)) error
	Close() error
}

// NewBroker picks the backend by name: "local" (or empty) or "redis".
func NewBroker(backend string, rdb redis.UniversalClient, channel string) (Broker, error) {
	switch backend {
	case "", "local":
		return NewLocalBroker(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis broker requires a redis client")
		}
		return NewRedisBroker(rdb, channel), nil
	default:
		return nil, fmt.Errorf("unsupported broker backend: %s", backend)
	}
}

// LocalBroker delivers synchronously inside Publish.
type LocalBroker struct {
	mu      sync.RWMutex
	handler func(Envelope)
	closed  bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handler, closed := b.handler, b.closed
	b.mu.RUnlock()

	if closed {
		return ErrBrokerClosed
	}
	if handler != nil {
		handler(env)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.handler = handler
	return nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handler = nil
	b.mu.Unlock()
	return nil
}
