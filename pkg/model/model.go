package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/vango-dev/syncpage/pkg/store"
)

// Model is a per-request handle. It is safe for concurrent use, but is
// meant to live for one request only.
type Model struct {
	*state

	// revoked is set on leased handles; nil for the request's own handle.
	revoked *atomic.Bool
}

type state struct {
	backend *Backend

	mu     sync.Mutex
	userID string
	local  []byte

	// docs caches loaded documents; a nil value records a known-missing doc.
	docs  map[string]*store.Doc
	order []string

	queries []*Query
	bundled bool
	closed  bool
}

// CreateModel returns a fresh model.
func (b *Backend) CreateModel() *Model {
	return &Model{state: &state{
		backend: b,
		local:   []byte("{}"),
		docs:    make(map[string]*store.Doc),
	}}
}

// Lease returns a handle sharing m's state that stops working once revoke
// is called. Revoke waits for an operation in progress on the handle, and
// every later call fails with ErrRevoked.
func (m *Model) Lease() (lease *Model, revoke func()) {
	lease = &Model{state: m.state, revoked: new(atomic.Bool)}
	return lease, func() {
		m.mu.Lock()
		lease.revoked.Store(true)
		m.mu.Unlock()
	}
}

// usable reports why the handle cannot be used. Callers hold mu.
func (m *Model) usable() error {
	if m.closed {
		return ErrClosed
	}
	if m.revoked != nil && m.revoked.Load() {
		return ErrRevoked
	}
	return nil
}

func (m *Model) isRevoked() bool {
	return m.revoked != nil && m.revoked.Load()
}

// ID returns a new unique id, suitable for documents and anonymous users.
func (m *Model) ID() string {
	return uuid.NewString()
}

// SetUserID sets the identity access rules see for this model's operations.
func (m *Model) SetUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRevoked() {
		return
	}
	m.userID = id
}

// UserID returns the identity set by SetUserID.
func (m *Model) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// At returns a handle scoped to path.
func (m *Model) At(path string) *Scoped {
	return &Scoped{m: m, path: path}
}

// Get returns the value at path decoded into Go values (map[string]any,
// []any, float64, string, bool), or nil when absent. Remote documents
// must have been fetched or written through this model first.
func (m *Model) Get(path string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.result(path)
	if !r.Exists() {
		return nil
	}
	return r.Value()
}

// GetString returns the value at path as a string, or "" when absent.
func (m *Model) GetString(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result(path).String()
}

// GetBool returns the value at path as a bool, or false when absent.
func (m *Model) GetBool(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result(path).Bool()
}

func (m *Model) result(path string) gjson.Result {
	if m.isRevoked() {
		return gjson.Result{}
	}
	collection, id, rest := splitPath(path)
	if isLocal(collection) {
		return gjson.GetBytes(m.local, path)
	}
	doc := m.docs[docKey(collection, id)]
	if doc == nil {
		return gjson.Result{}
	}
	if rest == "" {
		return gjson.ParseBytes(doc.Data)
	}
	return gjson.GetBytes(doc.Data, rest)
}

// Set writes value at path. Local paths change only this model; remote
// paths commit the whole document, creating it when missing.
func (m *Model) Set(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(ctx, path, value)
}

func (m *Model) set(ctx context.Context, path string, value any) error {
	if err := m.usable(); err != nil {
		return err
	}
	collection, id, rest := splitPath(path)
	if isLocal(collection) {
		local, err := sjson.SetBytes(m.local, path, value)
		if err != nil {
			return fmt.Errorf("model: set %s: %w", path, err)
		}
		m.local = local
		return nil
	}
	if collection == "" || id == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	prev, err := m.load(ctx, collection, id)
	if err != nil {
		return err
	}
	var data []byte
	if rest == "" {
		data, err = docBody(id, value)
	} else {
		base := []byte(`{"id":` + quote(id) + `}`)
		if prev != nil {
			base = prev.Data
		}
		data, err = sjson.SetBytes(base, rest, value)
	}
	if err != nil {
		return fmt.Errorf("model: set %s: %w", path, err)
	}

	doc, err := m.backend.commit(ctx, m.userID, prev, collection, id, data)
	if err != nil {
		return err
	}
	m.remember(collection, id, doc)
	return nil
}

// Del removes the value at path. A document path deletes the document.
func (m *Model) Del(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	collection, id, rest := splitPath(path)
	if isLocal(collection) {
		local, err := sjson.DeleteBytes(m.local, path)
		if err != nil {
			return fmt.Errorf("model: del %s: %w", path, err)
		}
		m.local = local
		return nil
	}
	if collection == "" || id == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	prev, err := m.load(ctx, collection, id)
	if err != nil || prev == nil {
		return err
	}
	if rest == "" {
		if err := m.backend.remove(ctx, m.userID, prev); err != nil {
			return err
		}
		m.remember(collection, id, nil)
		return nil
	}
	data, err := sjson.DeleteBytes(prev.Data, rest)
	if err != nil {
		return fmt.Errorf("model: del %s: %w", path, err)
	}
	doc, err := m.backend.commit(ctx, m.userID, prev, collection, id, data)
	if err != nil {
		return err
	}
	m.remember(collection, id, doc)
	return nil
}

// Add creates a document in collection and returns its id. The id is taken
// from value's "id" field when present, otherwise generated.
func (m *Model) Add(ctx context.Context, collection string, value any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return "", err
	}
	if collection == "" || isLocal(collection) {
		return "", fmt.Errorf("%w: cannot add to %q", ErrInvalidPath, collection)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("model: add %s: %w", collection, err)
	}
	id := gjson.GetBytes(raw, "id").String()
	if id == "" {
		id = uuid.NewString()
	}
	data, err := docBody(id, json.RawMessage(raw))
	if err != nil {
		return "", fmt.Errorf("model: add %s: %w", collection, err)
	}
	doc, err := m.backend.commit(ctx, m.userID, nil, collection, id, data)
	if err != nil {
		return "", err
	}
	m.remember(collection, id, doc)
	return id, nil
}

// Push appends value to the array at path, creating the array if needed.
func (m *Model) Push(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []any
	if r := m.result(path); r.Exists() {
		cur, ok := r.Value().([]any)
		if !ok {
			return fmt.Errorf("model: push %s: not an array", path)
		}
		list = cur
	}
	return m.set(ctx, path, append(list, value))
}

// Fetch loads documents and query results into the model so they can be
// read with Get and are included in the Bundle.
func (m *Model) Fetch(ctx context.Context, refs ...Fetchable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	for _, ref := range refs {
		if err := ref.fetchInto(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the model. Further operations fail with ErrClosed.
// Closing a leased handle has no effect.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked != nil {
		return
	}
	m.closed = true
	m.docs = nil
	m.order = nil
	m.queries = nil
}

// load returns the cached document or reads it from the store.
func (m *Model) load(ctx context.Context, collection, id string) (*store.Doc, error) {
	key := docKey(collection, id)
	if doc, ok := m.docs[key]; ok {
		return doc, nil
	}
	doc, err := m.backend.CheckRead(ctx, m.userID, collection, id)
	if err != nil {
		return nil, err
	}
	m.remember(collection, id, doc)
	return doc, nil
}

func (m *Model) remember(collection, id string, doc *store.Doc) {
	key := docKey(collection, id)
	if _, seen := m.docs[key]; !seen {
		m.order = append(m.order, key)
	}
	m.docs[key] = doc
}

// docBody encodes value as a JSON object carrying id.
func docBody(id string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("document body must be an object")
	}
	return sjson.SetBytes(raw, "id", id)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Fetchable is a document handle or query that Fetch can load.
type Fetchable interface {
	fetchInto(ctx context.Context, m *Model) error
}

// Scoped is a model handle rooted at a path.
type Scoped struct {
	m    *Model
	path string
}

// Path returns the scoped path.
func (s *Scoped) Path() string { return s.path }

// At returns a handle for a sub-path.
func (s *Scoped) At(sub string) *Scoped {
	return &Scoped{m: s.m, path: joinPath(s.path, sub)}
}

// Get returns the value at the scoped path.
func (s *Scoped) Get() any { return s.m.Get(s.path) }

// Set writes value at the scoped path.
func (s *Scoped) Set(ctx context.Context, value any) error { return s.m.Set(ctx, s.path, value) }

// Push appends value to the array at the scoped path.
func (s *Scoped) Push(ctx context.Context, value any) error { return s.m.Push(ctx, s.path, value) }

// Del removes the value at the scoped path.
func (s *Scoped) Del(ctx context.Context) error { return s.m.Del(ctx, s.path) }

func (s *Scoped) fetchInto(ctx context.Context, m *Model) error {
	if s.m.state != m.state {
		return fmt.Errorf("model: handle belongs to another model")
	}
	collection, id, _, err := requireDocPath(s.path)
	if err != nil {
		return err
	}
	if isLocal(collection) {
		return nil
	}
	doc, err := m.backend.CheckRead(ctx, m.userID, collection, id)
	if err != nil {
		return err
	}
	m.remember(collection, id, doc)
	return nil
}
