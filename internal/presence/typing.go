package presence

import (
	"sync"
	"time"
)

type typingKey struct {
	userID uint
	chatID uint
}

// TypingTimers tracks one quiet-period timer per (user, chat). When a timer
// fires without being restarted or stopped, its onExpire callback runs once.
type TypingTimers struct {
	mu      sync.Mutex
	timeout time.Duration
	timers  map[typingKey]*time.Timer
	closed  bool
}

func NewTypingTimers(timeout time.Duration) *TypingTimers {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TypingTimers{
		timeout: timeout,
		timers:  make(map[typingKey]*time.Timer),
	}
}

// Start (re)arms the timer for the pair, cancelling any previous one.
// onExpire runs with the timers locked, so a Start racing the expiry waits
// for it to finish. It must be short and must not call back into
// TypingTimers.
func (t *TypingTimers) Start(userID, chatID uint, onExpire func()) {
	key := typingKey{userID, chatID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		if current, ok := t.timers[key]; !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		onExpire()
		t.mu.Unlock()
	})
	t.timers[key] = timer
}

// Stop cancels the pair's timer and reports whether one was running.
func (t *TypingTimers) Stop(userID, chatID uint) bool {
	key := typingKey{userID, chatID}

	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// StopUser cancels every timer of the user and returns the affected chats.
func (t *TypingTimers) StopUser(userID uint) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var chats []uint
	for key, timer := range t.timers {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(t.timers, key)
		chats = append(chats, key.chatID)
	}
	return chats
}

func (t *TypingTimers) Active(userID, chatID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typingKey{userID, chatID}]
	return ok
}

// Close cancels everything; later Start calls are ignored.
func (t *TypingTimers) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	t.closed = true
}
