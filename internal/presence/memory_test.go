package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_RegisterUnregister(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	require.NoError(t, tr.Register(ctx, 1, "conn-a"))
	online, err := tr.IsOnline(ctx, 1)
	require.NoError(t, err)
	assert.True(t, online)

	last, err := tr.LastSeen(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, last)

	seen, current, err := tr.Unregister(ctx, 1, "conn-a")
	require.NoError(t, err)
	assert.True(t, current)
	assert.Equal(t, fixed, seen)

	online, _ = tr.IsOnline(ctx, 1)
	assert.False(t, online)
	last, _ = tr.LastSeen(ctx, 1)
	require.NotNil(t, last)
	assert.Equal(t, fixed, *last)
}

func TestMemoryTracker_StaleConnectionKeepsUserOnline(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	require.NoError(t, tr.Register(ctx, 7, "phone"))
	require.NoError(t, tr.Register(ctx, 7, "laptop"))

	_, current, err := tr.Unregister(ctx, 7, "phone")
	require.NoError(t, err)
	assert.False(t, current)

	online, _ := tr.IsOnline(ctx, 7)
	assert.True(t, online, "newer connection must keep the user online")

	_, current, err = tr.Unregister(ctx, 7, "laptop")
	require.NoError(t, err)
	assert.True(t, current)
	online, _ = tr.IsOnline(ctx, 7)
	assert.False(t, online)
}

func TestMemoryTracker_UnknownUser(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	_, current, err := tr.Unregister(ctx, 99, "nope")
	require.NoError(t, err)
	assert.False(t, current)

	status, err := StatusOf(ctx, tr, 99)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.Nil(t, status.LastSeen)
}

func TestMemoryTracker_Concurrent(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_ = tr.Register(ctx, id, "c")
			_, _ = tr.IsOnline(ctx, id)
			_, _, _ = tr.Unregister(ctx, id, "c")
		}(uint(i))
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		online, _ := tr.IsOnline(ctx, uint(i))
		assert.False(t, online)
	}
}

func TestNew(t *testing.T) {
	tr, err := New("memory", nil, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryTracker{}, tr)

	_, err = New("redis", nil, "")
	assert.Error(t, err)

	_, err = New("etcd", nil, "")
	assert.Error(t, err)
}
