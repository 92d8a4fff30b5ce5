package presence

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisTracker(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	prefix := "test-presence-" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), prefix+":online", prefix+":last_seen") })

	tr := NewRedisTracker(rdb, prefix)

	require.NoError(t, tr.Register(ctx, 1, "a"))
	require.NoError(t, tr.Register(ctx, 1, "b"))

	_, current, err := tr.Unregister(ctx, 1, "a")
	require.NoError(t, err)
	assert.False(t, current)
	online, err := tr.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.True(t, online)

	seen, current, err := tr.Unregister(ctx, 1, "b")
	require.NoError(t, err)
	assert.True(t, current)
	online, _ = tr.IsOnline(ctx, 1)
	assert.False(t, online)

	last, err := tr.LastSeen(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, seen.Equal(*last))
}
