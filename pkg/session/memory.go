package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store.
// It's the default store and suitable for single-server deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Record
	closed   bool
	done     chan struct{}
}

// MemoryStoreOption configures MemoryStore behavior.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired sessions are purged.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	m := &MemoryStore{
		sessions: make(map[string]Record),
		done:     make(chan struct{}),
	}
	go m.cleanupLoop(cfg.cleanupInterval)
	return m
}

// Ready implements Store; an in-memory store is always ready.
func (m *MemoryStore) Ready(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.sessions[sessionID] = Record{Data: append([]byte(nil), data...), ExpiresAt: expiresAt}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := m.sessions[sessionID]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return &rec, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.sessions, sessionID)
	return nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if rec, ok := m.sessions[sessionID]; ok {
		rec.ExpiresAt = expiresAt
		m.sessions[sessionID] = rec
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.sessions = nil
	return nil
}

// Count returns the number of stored sessions, expired ones included until
// the next cleanup.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	now := time.Now()
	for id, rec := range m.sessions {
		if now.After(rec.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}
