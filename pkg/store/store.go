package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVersionConflict is returned when a write's expected version does not
	// match the stored version.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrClosed is returned by every operation after Close, and by Ping once
	// the underlying connection has been destroyed.
	ErrClosed = errors.New("store: closed")

	// ErrUnsupportedCriteria is returned when a query uses an operator the
	// store cannot evaluate.
	ErrUnsupportedCriteria = errors.New("store: unsupported criteria")
)

// Doc is a single versioned document.
type Doc struct {
	Collection string
	ID         string

	// Version is 0 for a document that has never been written.
	Version int64

	// Data is the document body, always a JSON object.
	Data json.RawMessage
}

// Clone returns a deep copy of d.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = append(json.RawMessage(nil), d.Data...)
	return &c
}

// Key returns "collection.id".
func (d *Doc) Key() string {
	return d.Collection + "." + d.ID
}

// DocStore is the persistence contract used by the model backend.
type DocStore interface {
	// Get returns the document or nil, nil when it does not exist.
	Get(ctx context.Context, collection, id string) (*Doc, error)

	// Put writes doc.Data if the stored version equals doc.Version
	// (0 meaning "must not exist") and returns the new version.
	Put(ctx context.Context, doc *Doc) (int64, error)

	// Delete removes the document if the stored version equals version.
	Delete(ctx context.Context, collection, id string, version int64) error

	// Query returns the documents of collection matching criteria, ordered by id.
	Query(ctx context.Context, collection string, criteria Criteria) ([]*Doc, error)

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	Close() error
}

// Open returns a store for url. Supported forms:
//
//	memory://            in-process store
//	sqlite://<path>      SQLite database file
//	<path>.db            SQLite database file
func Open(ctx context.Context, url string) (DocStore, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemory(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasSuffix(url, ".db") || strings.HasSuffix(url, ".sqlite"):
		return OpenSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("store: unsupported url %q", url)
	}
}

func validateDoc(doc *Doc) error {
	if doc == nil {
		return errors.New("store: nil document")
	}
	if doc.Collection == "" || doc.ID == "" {
		return errors.New("store: collection and id are required")
	}
	if !json.Valid(doc.Data) {
		return fmt.Errorf("store: %s: data is not valid JSON", doc.Key())
	}
	return nil
}
