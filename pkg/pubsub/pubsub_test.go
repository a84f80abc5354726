package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed before message")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func exercise(t *testing.T, ps PubSub) {
	t.Helper()
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, "doc:users.u1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	other, err := ps.Subscribe(ctx, "doc:users.u2")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer other.Close()

	if err := ps.Publish(ctx, "doc:users.u1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	msg := receive(t, sub)
	if msg.Channel != "doc:users.u1" || string(msg.Data) != `{"v":1}` {
		t.Errorf("message = %q %q", msg.Channel, msg.Data)
	}

	select {
	case m := <-other.Messages():
		t.Errorf("unrelated subscriber got %q", m.Data)
	case <-time.After(50 * time.Millisecond):
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestMemory(t *testing.T) {
	ps := NewMemory(nil)
	exercise(t, ps)

	if err := ps.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := ps.Publish(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("Publish() after close = %v, want ErrClosed", err)
	}
	if _, err := ps.Subscribe(context.Background(), "x"); err != ErrClosed {
		t.Errorf("Subscribe() after close = %v, want ErrClosed", err)
	}
}

func TestMemoryCloseEndsSubscriptions(t *testing.T) {
	ps := NewMemory(nil)
	sub, err := ps.Subscribe(context.Background(), "c")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	_ = ps.Close()
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed channel after PubSub.Close")
	}
	_ = sub.Close()
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ps := NewRedis(client, nil)
	defer ps.Close()

	exercise(t, ps)
}

func TestIsFirstInstance(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"", true},
		{"web", true},
		{"web.app.cluster", true},
		{"web.app.cluster.1", true},
		{"web.app.cluster.2", false},
		{"web.app.cluster.10.x", false},
	}
	for _, tt := range tests {
		if got := IsFirstInstance(tt.hostname); got != tt.want {
			t.Errorf("IsFirstInstance(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}

func TestFlushOnFirstInstance(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	_ = mr.Set("stale", "1")
	flushed, err := FlushOnFirstInstance(ctx, client, "web.app.cluster.2", nil)
	if err != nil || flushed {
		t.Fatalf("second instance: flushed=%v err=%v", flushed, err)
	}
	if !mr.Exists("stale") {
		t.Fatal("second instance must not flush")
	}

	flushed, err = FlushOnFirstInstance(ctx, client, "web.app.cluster.1", nil)
	if err != nil || !flushed {
		t.Fatalf("first instance: flushed=%v err=%v", flushed, err)
	}
	if mr.Exists("stale") {
		t.Error("first instance should flush")
	}
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("memory by default", func(t *testing.T) {
		ps, err := Select(ctx, SelectConfig{})
		if err != nil {
			t.Fatalf("Select() error: %v", err)
		}
		defer ps.Close()
		if _, ok := ps.(*Memory); !ok {
			t.Errorf("Select() = %T, want *Memory", ps)
		}
	})

	t.Run("no redis flag wins", func(t *testing.T) {
		ps, err := Select(ctx, SelectConfig{RedisURL: "redis://127.0.0.1:1", NoRedis: true})
		if err != nil {
			t.Fatalf("Select() error: %v", err)
		}
		defer ps.Close()
		if _, ok := ps.(*Memory); !ok {
			t.Errorf("Select() = %T, want *Memory", ps)
		}
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis.Run failed: %v", err)
		}
		defer mr.Close()
		ps, err := Select(ctx, SelectConfig{RedisURL: "redis://" + mr.Addr(), FlushRedis: true})
		if err != nil {
			t.Fatalf("Select() error: %v", err)
		}
		defer ps.Close()
		if _, ok := ps.(*Redis); !ok {
			t.Errorf("Select() = %T, want *Redis", ps)
		}
	})
}

func TestLoadTLS(t *testing.T) {
	cfg, err := LoadTLS("", "")
	if err != nil || cfg != nil {
		t.Fatalf("LoadTLS(empty) = %v, %v", cfg, err)
	}
	if _, err := LoadTLS("cert.pem", ""); err == nil {
		t.Error("LoadTLS with only cert expected error")
	}
}

// fakeBus is a minimal in-test websocket message bus.
type fakeBus struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]map[string]bool
}

func (b *fakeBus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns[conn] = map[string]bool{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	for {
		var f busFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		b.mu.Lock()
		switch f.Type {
		case "subscribe":
			b.conns[conn][f.Channel] = true
		case "unsubscribe":
			delete(b.conns[conn], f.Channel)
		case "publish":
			payload, _ := json.Marshal(busFrame{Type: "message", Channel: f.Channel, Data: f.Data})
			for c, chans := range b.conns {
				if chans[f.Channel] {
					_ = c.WriteMessage(websocket.TextMessage, payload)
				}
			}
		}
		b.mu.Unlock()
	}
}

func TestWSBus(t *testing.T) {
	bus := &fakeBus{conns: map[*websocket.Conn]map[string]bool{}}
	srv := httptest.NewServer(bus)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ps, err := DialWSBus(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialWSBus() error: %v", err)
	}
	defer ps.Close()

	ctx := context.Background()
	sub, err := ps.Subscribe(ctx, "doc:users.u1")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer sub.Close()

	// The subscribe frame is processed asynchronously by the bus.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.Lock()
		ready := false
		for _, chans := range bus.conns {
			ready = ready || chans["doc:users.u1"]
		}
		bus.mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bus never saw subscribe frame")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ps.Publish(ctx, "doc:users.u1", []byte("hello")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	msg := receive(t, sub)
	if string(msg.Data) != "hello" {
		t.Errorf("Data = %q, want hello", msg.Data)
	}
	if err := ps.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
