package ws

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroker_DeliversInPublishOrder(t *testing.T) {
	b := NewLocalBroker()

	var got []string
	require.NoError(t, b.Subscribe(context.Background(), func(env Envelope) {
		got = append(got, string(env.Frame))
	}))

	for _, frame := range []string{`"a"`, `"b"`, `"c"`} {
		require.NoError(t, b.Publish(context.Background(), Envelope{Target: TargetAll, Frame: []byte(frame)}))
	}
	assert.Equal(t, []string{`"a"`, `"b"`, `"c"`}, got)
}

func TestLocalBroker_Closed(t *testing.T) {
	b := NewLocalBroker()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), Envelope{}), ErrBrokerClosed)
	assert.ErrorIs(t, b.Subscribe(context.Background(), func(Envelope) {}), ErrBrokerClosed)
}

func TestNewBroker(t *testing.T) {
	b, err := NewBroker("", nil, "")
	require.NoError(t, err)
	assert.IsType(t, &LocalBroker{}, b)

	_, err = NewBroker("redis", nil, "")
	assert.Error(t, err)

	_, err = NewBroker("kafka", nil, "")
	assert.Error(t, err)
}

func TestChatLocks_SerializePerChat(t *testing.T) {
	locks := newChatLocks()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, locks.locks, "released locks are dropped")
}

func TestChatLocks_DifferentChatsDoNotBlock(t *testing.T) {
	locks := newChatLocks()
	unlock := locks.lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		locks.lock(2)()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another chat blocked")
	}
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	anyOrigin := originChecker(nil)
	assert.True(t, anyOrigin(req("https://evil.example")))

	star := originChecker([]string{"*"})
	assert.True(t, star(req("https://evil.example")))

	strict := originChecker([]string{"https://app.example.com"})
	assert.True(t, strict(req("https://APP.example.com")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}
