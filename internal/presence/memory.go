package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps presence in process memory.
type MemoryTracker struct {
	mu       sync.RWMutex
	online   map[uint]string
	lastSeen map[uint]time.Time
	now      func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		online:   make(map[uint]string),
		lastSeen: make(map[uint]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryTracker) Register(_ context.Context, userID uint, connID string) error {
	m.mu.Lock()
	m.online[userID] = connID
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Unregister(_ context.Context, userID uint, connID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.online[userID]; !ok || current != connID {
		return m.lastSeen[userID], false, nil
	}
	now := m.now()
	delete(m.online, userID)
	m.lastSeen[userID] = now
	return now, true, nil
}

func (m *MemoryTracker) IsOnline(_ context.Context, userID uint) (bool, error) {
	m.mu.RLock()
	_, ok := m.online[userID]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryTracker) LastSeen(_ context.Context, userID uint) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastSeen[userID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryTracker) Close() error { return nil }
