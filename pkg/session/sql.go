package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLStore is a SQL-backed session store.
// It works with any database/sql driver speaking PostgreSQL or SQLite syntax.
// EnsureSchema (called by Ready) creates:
//
//	CREATE TABLE syncpage_sessions (
//	    id VARCHAR(64) PRIMARY KEY,
//	    data BLOB NOT NULL,
//	    expires_at BIGINT NOT NULL,   -- unix milliseconds
//	    updated_at BIGINT NOT NULL
//	);
type SQLStore struct {
	db              *sql.DB
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	closed          atomic.Bool
	done            chan struct{}
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
)

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*SQLStore)

// WithSQLTableName sets the table name for session storage.
// Default: "syncpage_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(s *SQLStore) {
		s.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect. Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(s *SQLStore) {
		s.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired sessions are deleted.
// Default: 5 minutes. Zero disables cleanup.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(s *SQLStore) {
		s.cleanupInterval = d
	}
}

// NewSQLStore creates a new SQL-backed session store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{
		db:              db,
		tableName:       "syncpage_sessions",
		dialect:         DialectSQLite,
		cleanupInterval: 5 * time.Minute,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// ph returns the n-th placeholder for the dialect.
func (s *SQLStore) ph(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// EnsureSchema creates the session table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == DialectPostgreSQL {
		blob = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			data %s NOT NULL,
			expires_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.tableName, blob))
	if err != nil {
		return fmt.Errorf("session: create table: %w", err)
	}
	return nil
}

// Ready implements Store: it pings the database and ensures the schema.
func (s *SQLStore) Ready(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("session: ping: %w", err)
	}
	return s.EnsureSchema(ctx)
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, data, expires_at, updated_at)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		s.tableName, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err := s.db.ExecContext(ctx, query, sessionID, data, expiresAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	query := fmt.Sprintf(`SELECT data, expires_at FROM %s WHERE id = %s AND expires_at > %s`,
		s.tableName, s.ph(1), s.ph(2))

	var (
		data    []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID, time.Now().UnixMilli()).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{Data: data, ExpiresAt: time.UnixMilli(expires)}, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.ph(1)), sessionID)
	return err
}

// Touch implements Store.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s, updated_at = %s WHERE id = %s`,
		s.tableName, s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.ExecContext(ctx, query, expiresAt.UnixMilli(), time.Now().UnixMilli(), sessionID)
	return err
}

// Close stops the cleanup loop. The *sql.DB is owned by the caller.
func (s *SQLStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

func (s *SQLStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= %s`, s.tableName, s.ph(1))
	_, _ = s.db.ExecContext(ctx, query, time.Now().UnixMilli())
}
