package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker knows which users hold a live connection and when offline users
// were last seen. Each user has at most one current connection id; a newer
// Register replaces it.
type Tracker interface {
	Register(ctx context.Context, userID uint, connID string) error
	// Unregister takes the user offline only while connID is still current.
	// wasCurrent reports whether that happened; otherwise a newer
	// connection of the same user remains online.
	Unregister(ctx context.Context, userID uint, connID string) (lastSeen time.Time, wasCurrent bool, err error)
	IsOnline(ctx context.Context, userID uint) (bool, error)
	LastSeen(ctx context.Context, userID uint) (*time.Time, error)
	Close() error
}

type Status struct {
	UserID   uint
	IsOnline bool
	LastSeen *time.Time
}

func StatusOf(ctx context.Context, t Tracker, userID uint) (Status, error) {
	online, err := t.IsOnline(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	lastSeen, err := t.LastSeen(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{UserID: userID, IsOnline: online, LastSeen: lastSeen}, nil
}

// New builds the tracker named by backend ("memory" or "redis").
func New(backend string, rdb redis.UniversalClient, keyPrefix string) (Tracker, error) {
	switch backend {
	case "memory", "":
		return NewMemoryTracker(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis presence requires a redis client")
		}
		return NewRedisTracker(rdb, keyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported presence backend: %s", backend)
	}
}
