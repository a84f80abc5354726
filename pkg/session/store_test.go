package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
		"sql":    NewSQLStore(db, WithSQLCleanupInterval(0)),
	}
	for name, s := range stores {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ready(ctx); err != nil {
			cancel()
			t.Fatalf("%s Ready() error: %v", name, err)
		}
		cancel()
		t.Cleanup(func() { _ = s.Close() })
	}
	return stores
}

func TestStoreContract(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := s.Load(ctx, "missing")
			if err != nil || rec != nil {
				t.Fatalf("Load(missing) = %v, %v; want nil, nil", rec, err)
			}

			expires := time.Now().Add(time.Hour)
			if err := s.Save(ctx, "s1", []byte(`{"id":"s1"}`), expires); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
			rec, err = s.Load(ctx, "s1")
			if err != nil || rec == nil {
				t.Fatalf("Load() = %v, %v", rec, err)
			}
			if string(rec.Data) != `{"id":"s1"}` {
				t.Errorf("Data = %s", rec.Data)
			}
			if d := rec.ExpiresAt.Sub(expires); d > 2*time.Second || d < -2*time.Second {
				t.Errorf("ExpiresAt = %v, want ~%v", rec.ExpiresAt, expires)
			}

			later := time.Now().Add(2 * time.Hour)
			if err := s.Touch(ctx, "s1", later); err != nil {
				t.Fatalf("Touch() error: %v", err)
			}
			rec, _ = s.Load(ctx, "s1")
			if rec == nil || rec.ExpiresAt.Before(expires.Add(30*time.Minute)) {
				t.Errorf("Touch() did not extend expiry: %+v", rec)
			}
			if err := s.Touch(ctx, "missing", later); err != nil {
				t.Errorf("Touch(missing) error: %v", err)
			}

			if err := s.Save(ctx, "s1", []byte(`{"id":"s1","loggedIn":true}`), expires); err != nil {
				t.Fatalf("overwrite Save() error: %v", err)
			}
			rec, _ = s.Load(ctx, "s1")
			if rec == nil || string(rec.Data) != `{"id":"s1","loggedIn":true}` {
				t.Errorf("overwrite not visible: %+v", rec)
			}

			if err := s.Delete(ctx, "s1"); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}
			if rec, _ := s.Load(ctx, "s1"); rec != nil {
				t.Error("Load() after Delete returned a record")
			}
			if err := s.Delete(ctx, "s1"); err != nil {
				t.Errorf("Delete(missing) error: %v", err)
			}
		})
	}
}

func TestStoreExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	defer m.Close()
	_ = m.Save(ctx, "old", []byte("{}"), time.Now().Add(-time.Second))
	if rec, _ := m.Load(ctx, "old"); rec != nil {
		t.Error("expired session loaded")
	}
	m.cleanup()
	if m.Count() != 0 {
		t.Errorf("Count() = %d after cleanup, want 0", m.Count())
	}
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Close()
	if err := m.Save(ctx, "x", nil, time.Now()); err != ErrStoreClosed {
		t.Errorf("Save() after Close = %v, want ErrStoreClosed", err)
	}
	if err := m.Ready(ctx); err != ErrStoreClosed {
		t.Errorf("Ready() after Close = %v, want ErrStoreClosed", err)
	}
}

func TestRedisReadyWaits(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	s := NewRedisStore(client, WithRedisRetryInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Ready(ctx); err == nil {
		t.Fatal("Ready() against an unreachable server should fail when ctx ends")
	}
}
