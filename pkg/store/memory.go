package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process DocStore. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string]*Doc
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]*Doc)}
}

// Get implements DocStore.
func (m *Memory) Get(ctx context.Context, collection, id string) (*Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.docs[collection][id].Clone(), nil
}

// Put implements DocStore.
func (m *Memory) Put(ctx context.Context, doc *Doc) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateDoc(doc); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	coll := m.docs[doc.Collection]
	if coll == nil {
		coll = make(map[string]*Doc)
		m.docs[doc.Collection] = coll
	}
	var current int64
	if existing := coll[doc.ID]; existing != nil {
		current = existing.Version
	}
	if current != doc.Version {
		return 0, ErrVersionConflict
	}

	stored := doc.Clone()
	stored.Version = current + 1
	coll[doc.ID] = stored
	return stored.Version, nil
}

// Delete implements DocStore.
func (m *Memory) Delete(ctx context.Context, collection, id string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	existing := m.docs[collection][id]
	if existing == nil || existing.Version != version {
		return ErrVersionConflict
	}
	delete(m.docs[collection], id)
	return nil
}

// Query implements DocStore.
func (m *Memory) Query(ctx context.Context, collection string, criteria Criteria) ([]*Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []*Doc
	for _, doc := range m.docs[collection] {
		if criteria.Matches(doc) {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping implements DocStore.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close implements DocStore.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.docs = nil
	return nil
}

// Len returns the number of stored documents across collections.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, coll := range m.docs {
		n += len(coll)
	}
	return n
}
