package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/syncpage/pkg/pubsub"
	"github.com/vango-dev/syncpage/pkg/store"
)

// Op identifies the kind of access being checked.
type Op int

const (
	OpRead Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Access describes one document access.
type Access struct {
	Op         Op
	Collection string
	ID         string
	UserID     string

	// Data is the document body after the operation (before it for deletes
	// and reads).
	Data json.RawMessage
}

// AccessRule returns a non-nil error to deny an access.
type AccessRule func(ctx context.Context, a Access) error

// Validator checks a document body before it is committed.
type Validator func(id string, data json.RawMessage) error

// QueryRequest is what query middlewares see and may rewrite.
type QueryRequest struct {
	Collection string

	// Raw is the criteria as given to Model.Query.
	Raw any

	// Criteria is the normalized form the store evaluates.
	Criteria store.Criteria
}

// QueryMiddleware rewrites a query before it reaches the store.
type QueryMiddleware func(ctx context.Context, q *QueryRequest) error

// Change is published on ChannelFor(Collection, ID) after every commit.
type Change struct {
	Collection string          `json:"c"`
	ID         string          `json:"d"`
	Version    int64           `json:"v"`
	Data       json.RawMessage `json:"data,omitempty"`
	Deleted    bool            `json:"del,omitempty"`
}

// CommitHook observes committed changes.
type CommitHook func(ctx context.Context, c Change)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWatchdogInterval sets how often the store connection is pinged.
// Zero disables the watchdog.
func WithWatchdogInterval(d time.Duration) Option {
	return func(b *Backend) {
		b.watchdogInterval = d
	}
}

// DefaultWatchdogInterval is how often the store is pinged by default.
const DefaultWatchdogInterval = 5 * time.Second

// Backend is the process-wide side of the gateway.
type Backend struct {
	store  store.DocStore
	bus    pubsub.PubSub
	logger *slog.Logger

	mu          sync.RWMutex
	queryMW     []QueryMiddleware
	commitHooks []CommitHook
	schemas     map[string]Validator
	access      []AccessRule

	watchdogInterval time.Duration
	fatal            chan error
	fatalOnce        sync.Once
	done             chan struct{}
	closeOnce        sync.Once
}

// NewBackend creates a backend over st and bus. A nil bus uses an
// in-process fan-out. The default query middleware, NormalizeQuery, is
// installed first.
func NewBackend(st store.DocStore, bus pubsub.PubSub, opts ...Option) *Backend {
	b := &Backend{
		store:            st,
		bus:              bus,
		logger:           slog.Default(),
		schemas:          make(map[string]Validator),
		watchdogInterval: DefaultWatchdogInterval,
		fatal:            make(chan error, 1),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "model")
	if b.bus == nil {
		b.bus = pubsub.NewMemory(b.logger)
	}
	b.queryMW = []QueryMiddleware{NormalizeQuery}
	if b.watchdogInterval > 0 {
		go b.watchdog()
	}
	return b
}

// Store returns the underlying document store.
func (b *Backend) Store() store.DocStore { return b.store }

// UseQuery appends a query middleware. Middlewares run in registration order.
func (b *Backend) UseQuery(mw QueryMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryMW = append(b.queryMW, mw)
}

// SetSchema installs the validator for collection, replacing any previous one.
func (b *Backend) SetSchema(collection string, v Validator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[collection] = v
}

// Allow appends an access rule. Every rule must pass.
func (b *Backend) Allow(rule AccessRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = append(b.access, rule)
}

// OnCommit registers a hook run synchronously after every commit.
func (b *Backend) OnCommit(h CommitHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitHooks = append(b.commitHooks, h)
}

// Fatal delivers at most one ErrStoreFatal-wrapping error once the store
// connection is found destroyed.
func (b *Backend) Fatal() <-chan error { return b.fatal }

// Close stops the watchdog and closes the pub/sub and the store.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = errors.Join(b.bus.Close(), b.store.Close())
	})
	return err
}

func (b *Backend) watchdog() {
	t := time.NewTicker(b.watchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), b.watchdogInterval)
			err := b.store.Ping(ctx)
			cancel()
			if b.checkFatal(err) {
				return
			}
		}
	}
}

// checkFatal reports err on the fatal channel when it means the store is gone.
func (b *Backend) checkFatal(err error) bool {
	if !errors.Is(err, store.ErrClosed) {
		return false
	}
	select {
	case <-b.done:
		return true
	default:
	}
	b.fatalOnce.Do(func() {
		b.logger.Error("store connection destroyed", "error", err)
		b.fatal <- fmt.Errorf("%w: %v", ErrStoreFatal, err)
	})
	return true
}

func (b *Backend) checkAccess(ctx context.Context, a Access) error {
	b.mu.RLock()
	rules := b.access
	b.mu.RUnlock()
	for _, rule := range rules {
		if err := rule(ctx, a); err != nil {
			return fmt.Errorf("model: %s %s.%s: %w", a.Op, a.Collection, a.ID, err)
		}
	}
	return nil
}

// CheckRead runs the access rules for reading one document on behalf of
// userID. Transports call it before subscribing a client.
func (b *Backend) CheckRead(ctx context.Context, userID, collection, id string) (*store.Doc, error) {
	doc, err := b.store.Get(ctx, collection, id)
	if err != nil {
		b.checkFatal(err)
		return nil, err
	}
	a := Access{Op: OpRead, Collection: collection, ID: id, UserID: userID}
	if doc != nil {
		a.Data = doc.Data
	}
	if err := b.checkAccess(ctx, a); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Backend) query(ctx context.Context, userID, collection string, raw any) ([]*store.Doc, store.Criteria, error) {
	req := &QueryRequest{Collection: collection, Raw: raw}
	b.mu.RLock()
	mws := b.queryMW
	b.mu.RUnlock()
	for _, mw := range mws {
		if err := mw(ctx, req); err != nil {
			return nil, nil, fmt.Errorf("model: query %s: %w", collection, err)
		}
	}

	docs, err := b.store.Query(ctx, collection, req.Criteria)
	if err != nil {
		b.checkFatal(err)
		return nil, nil, err
	}
	for _, doc := range docs {
		err := b.checkAccess(ctx, Access{Op: OpRead, Collection: collection, ID: doc.ID, UserID: userID, Data: doc.Data})
		if err != nil {
			return nil, nil, err
		}
	}
	return docs, req.Criteria, nil
}

// commit writes data over prev (nil for a create) and publishes the change.
func (b *Backend) commit(ctx context.Context, userID string, prev *store.Doc, collection, id string, data json.RawMessage) (*store.Doc, error) {
	op, version := OpCreate, int64(0)
	if prev != nil {
		op, version = OpUpdate, prev.Version
	}

	b.mu.RLock()
	validate := b.schemas[collection]
	b.mu.RUnlock()
	if validate != nil {
		if err := validate(id, data); err != nil {
			return nil, &ValidationError{Collection: collection, ID: id, Err: err}
		}
	}
	if err := b.checkAccess(ctx, Access{Op: op, Collection: collection, ID: id, UserID: userID, Data: data}); err != nil {
		return nil, err
	}

	doc := &store.Doc{Collection: collection, ID: id, Version: version, Data: data}
	v, err := b.store.Put(ctx, doc)
	if err != nil {
		b.checkFatal(err)
		return nil, fmt.Errorf("model: commit %s: %w", doc.Key(), err)
	}
	doc.Version = v

	b.afterCommit(ctx, Change{Collection: collection, ID: id, Version: v, Data: data})
	return doc, nil
}

func (b *Backend) remove(ctx context.Context, userID string, prev *store.Doc) error {
	err := b.checkAccess(ctx, Access{Op: OpDelete, Collection: prev.Collection, ID: prev.ID, UserID: userID, Data: prev.Data})
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, prev.Collection, prev.ID, prev.Version); err != nil {
		b.checkFatal(err)
		return fmt.Errorf("model: delete %s: %w", prev.Key(), err)
	}
	b.afterCommit(ctx, Change{Collection: prev.Collection, ID: prev.ID, Version: prev.Version + 1, Deleted: true})
	return nil
}

func (b *Backend) afterCommit(ctx context.Context, c Change) {
	b.mu.RLock()
	hooks := b.commitHooks
	b.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, c)
	}

	payload, err := json.Marshal(c)
	if err != nil {
		b.logger.Error("encode change", "doc", docKey(c.Collection, c.ID), "error", err)
		return
	}
	// The commit is durable; a failed publish only delays remote subscribers.
	if err := b.bus.Publish(ctx, ChannelFor(c.Collection, c.ID), payload); err != nil {
		b.logger.Warn("publish change failed", "doc", docKey(c.Collection, c.ID), "error", err)
	}
}

// Subscribe streams changes to one document until cancel is called or ctx
// ends. The returned channel is closed afterwards.
func (b *Backend) Subscribe(ctx context.Context, collection, id string) (<-chan Change, func(), error) {
	sub, err := b.bus.Subscribe(ctx, ChannelFor(collection, id))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Change, 16)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal(msg.Data, &c); err != nil {
					b.logger.Warn("decode change", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
