package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// unregisterScript removes the online entry only if it still holds the
// closing connection, and stamps last seen in the same step.
var unregisterScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

// RedisTracker shares presence between gateway instances through two
// hashes keyed by user id. The client is owned by the caller.
type RedisTracker struct {
	rdb         redis.UniversalClient
	onlineKey   string
	lastSeenKey string
	now         func() time.Time
}

func NewRedisTracker(rdb redis.UniversalClient, keyPrefix string) *RedisTracker {
	if keyPrefix == "" {
		keyPrefix = "presence"
	}
	return &RedisTracker{
		rdb:         rdb,
		onlineKey:   keyPrefix + ":online",
		lastSeenKey: keyPrefix + ":last_seen",
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func field(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

func (r *RedisTracker) Register(ctx context.Context, userID uint, connID string) error {
	return r.rdb.HSet(ctx, r.onlineKey, field(userID), connID).Err()
}

func (r *RedisTracker) Unregister(ctx context.Context, userID uint, connID string) (time.Time, bool, error) {
	now := r.now()
	removed, err := unregisterScript.Run(ctx, r.rdb,
		[]string{r.onlineKey, r.lastSeenKey},
		field(userID), connID, now.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return time.Time{}, false, err
	}
	if removed == 1 {
		return now, true, nil
	}

	last, err := r.LastSeen(ctx, userID)
	if err != nil || last == nil {
		return time.Time{}, false, err
	}
	return *last, false, nil
}

func (r *RedisTracker) IsOnline(ctx context.Context, userID uint) (bool, error) {
	return r.rdb.HExists(ctx, r.onlineKey, field(userID)).Result()
}

func (r *RedisTracker) LastSeen(ctx context.Context, userID uint) (*time.Time, error) {
	raw, err := r.rdb.HGet(ctx, r.lastSeenKey, field(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *RedisTracker) Close() error { return nil }
