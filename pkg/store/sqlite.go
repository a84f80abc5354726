package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vango-dev/syncpage/pkg/store/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLite is a DocStore backed by a SQLite database file. Document bodies are
// stored as JSON text and queried with the JSON1 json_extract function.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get implements DocStore.
func (s *SQLite) Get(ctx context.Context, collection, id string) (*Doc, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	doc := &Doc{Collection: collection, ID: id}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM docs WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&doc.Version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s.%s: %w", collection, id, err)
	}
	doc.Data = []byte(data)
	return doc, nil
}

// Put implements DocStore.
func (s *SQLite) Put(ctx context.Context, doc *Doc) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := validateDoc(doc); err != nil {
		return 0, err
	}
	now := time.Now().UTC().UnixMilli()

	if doc.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO docs (collection, id, version, data, updated_at) VALUES (?, ?, 1, ?, ?)`,
			doc.Collection, doc.ID, string(doc.Data), now,
		)
		if isConstraintError(err) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", doc.Key(), err)
		}
		return 1, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE docs SET version = version + 1, data = ?, updated_at = ?
		 WHERE collection = ? AND id = ? AND version = ?`,
		string(doc.Data), now, doc.Collection, doc.ID, doc.Version,
	)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", doc.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", doc.Key(), err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return doc.Version + 1, nil
}

// Delete implements DocStore.
func (s *SQLite) Delete(ctx context.Context, collection, id string, version int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM docs WHERE collection = ? AND id = ? AND version = ?`,
		collection, id, version,
	)
	if err != nil {
		return fmt.Errorf("delete %s.%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s.%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Query implements DocStore.
func (s *SQLite) Query(ctx context.Context, collection string, criteria Criteria) ([]*Doc, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	where, args, err := criteriaSQL(criteria)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, version, data FROM docs WHERE collection = ?`
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, append([]any{collection}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Doc
	for rows.Next() {
		doc := &Doc{Collection: collection}
		var data string
		if err := rows.Scan(&doc.ID, &doc.Version, &data); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", collection, err)
		}
		doc.Data = []byte(data)
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return out, nil
}

// Ping implements DocStore.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close implements DocStore.
func (s *SQLite) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// criteriaSQL renders criteria as a WHERE fragment. Only scalar comparison
// values are supported.
func criteriaSQL(c Criteria) (string, []any, error) {
	conds, err := c.conditions()
	if err != nil {
		return "", nil, err
	}
	var (
		clauses []string
		args    []any
	)
	for _, cond := range conds {
		expr := "id"
		var exprArgs []any
		if cond.field != IDField {
			expr = "json_extract(data, ?)"
			exprArgs = []any{"$." + cond.field}
		}

		values := make([]any, 0, len(cond.values))
		for _, v := range cond.values {
			sv, err := sqlScalar(v)
			if err != nil {
				return "", nil, fmt.Errorf("field %q: %w", cond.field, err)
			}
			values = append(values, sv)
		}

		switch cond.op {
		case "$eq":
			if values[0] == nil {
				clauses = append(clauses, expr+" IS NULL")
				args = append(args, exprArgs...)
				continue
			}
			clauses = append(clauses, expr+" = ?")
			args = append(args, exprArgs...)
			args = append(args, values[0])
		case "$ne":
			if values[0] == nil {
				clauses = append(clauses, expr+" IS NOT NULL")
				args = append(args, exprArgs...)
				continue
			}
			clauses = append(clauses, "("+expr+" IS NULL OR "+expr+" != ?)")
			args = append(args, exprArgs...)
			args = append(args, exprArgs...)
			args = append(args, values[0])
		case "$in", "$nin":
			if len(values) == 0 {
				if cond.op == "$in" {
					clauses = append(clauses, "0")
				}
				continue
			}
			for _, v := range values {
				if v == nil {
					return "", nil, fmt.Errorf("%w: null inside %s", ErrUnsupportedCriteria, cond.op)
				}
			}
			marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			if cond.op == "$in" {
				clauses = append(clauses, expr+" IN ("+marks+")")
				args = append(args, exprArgs...)
			} else {
				clauses = append(clauses, "("+expr+" IS NULL OR "+expr+" NOT IN ("+marks+"))")
				args = append(args, exprArgs...)
				args = append(args, exprArgs...)
			}
			args = append(args, values...)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func sqlScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("%w: non-scalar value %T", ErrUnsupportedCriteria, v)
	}
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
