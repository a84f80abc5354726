package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("session: store is closed")

// Record is a stored session.
type Record struct {
	Data      []byte
	ExpiresAt time.Time
}

// Store defines the interface for session persistence backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Ready blocks until the backend is connected or ctx ends. No request
	// should be served before it returns nil.
	Ready(ctx context.Context) error

	// Save persists session data, overwriting any existing record.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load returns (nil, nil) if the session doesn't exist or has expired.
	Load(ctx context.Context, sessionID string) (*Record, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Touch moves the expiration without rewriting the data. Touching a
	// missing session is not an error.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	Close() error
}
