package cache

import (
	"context"
	"sync"
	"time"
)

// entry is a cached value with its expiry
type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps entries in process memory
type MemoryBackend struct {
	mutex   sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithClock(time.Now)
}

// NewMemoryBackendWithClock uses now instead of the wall clock for expiry
func NewMemoryBackendWithClock(now func() time.Time) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]entry),
		now:     now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	e, found := m.entries[key]
	m.mutex.RUnlock()

	if !found {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mutex.Lock()
		// Only drop it if nobody replaced it in the meantime
		if current, ok := m.entries[key]; ok && current.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mutex.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries[key] = entry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *MemoryBackend) Flush(_ context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	count := len(m.entries)
	m.entries = make(map[string]entry)
	return count, nil
}

// Ensure MemoryBackend implements the Backend interface
var _ Backend = (*MemoryBackend)(nil)
