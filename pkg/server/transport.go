package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/session"
)

// ErrSlowConsumer closes a connection whose send buffer is full.
var ErrSlowConsumer = errors.New("server: client too slow")

// TransportConfig configures the realtime transport.
type TransportConfig struct {
	// ReadTimeout is the maximum time to wait for a client frame or pong.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the time between server pings. Must be below
	// ReadTimeout. Default: 30 seconds.
	PingInterval time.Duration

	// MaxMessageSize is the maximum size of a client frame. Default: 64KB.
	MaxMessageSize int64

	// SendBuffer is the per-connection outbound queue length. Default: 256.
	SendBuffer int

	// CheckOrigin validates the Origin header. Default: same host.
	CheckOrigin func(r *http.Request) bool

	// SilentLogs suppresses the "ws opened" and "ws closed" lines.
	SilentLogs bool

	// OnOpen and OnClose observe connection lifecycle.
	OnOpen  func(c *Conn)
	OnClose func(c *Conn)

	Logger *slog.Logger
}

func (c *TransportConfig) setDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Frame is the JSON message exchanged with clients.
type Frame struct {
	Action     string          `json:"a"`
	Collection string          `json:"c,omitempty"`
	ID         string          `json:"d,omitempty"`
	Version    int64           `json:"v,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Deleted    bool            `json:"del,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Transport upgrades HTTP requests to realtime connections.
type Transport struct {
	backend  *model.Backend
	config   TransportConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewTransport creates a transport streaming changes from backend.
func NewTransport(backend *model.Backend, config TransportConfig) *Transport {
	config.setDefaults()
	return &Transport{
		backend: backend,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: config.Logger.With("component", "transport"),
		conns:  make(map[*Conn]struct{}),
	}
}

// Len returns the number of open connections.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Close closes every open connection and rejects new ones.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conns := make([]*Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// The user id comes from the request session.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var userID string
	if sess := session.FromContext(r.Context()); sess != nil {
		userID = sess.UserID
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: r.UserAgent(),
		transport: t,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
		send:      make(chan Frame, t.config.SendBuffer),
		subs:      make(map[string]func()),
	}

	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	if !t.config.SilentLogs {
		t.logger.Info("ws opened", "user_id", c.UserID, "user_agent", c.UserAgent)
	}
	if t.config.OnOpen != nil {
		t.config.OnOpen(c)
	}

	go c.writeLoop()
	c.readLoop()
	c.Close()

	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()

	if !t.config.SilentLogs {
		t.logger.Info("ws closed", "user_id", c.UserID)
	}
	if t.config.OnClose != nil {
		t.config.OnClose(c)
	}
}

// Conn is one realtime client connection.
type Conn struct {
	ID        string
	UserID    string
	UserAgent string

	transport *Transport
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan Frame

	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

// Subscriptions returns the number of active document subscriptions.
func (c *Conn) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close ends the connection and all its subscriptions.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	c.cancel()
	c.ws.Close()
}

func (c *Conn) readLoop() {
	cfg := c.transport.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.enqueue(Frame{Action: "error", Error: "invalid frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.transport.logger.Warn("read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.handle(f)
	}
}

func (c *Conn) handle(f Frame) {
	switch f.Action {
	case "sub":
		c.subscribe(f.Collection, f.ID)
	case "unsub":
		c.unsubscribe(f.Collection, f.ID)
	case "ping":
		c.enqueue(Frame{Action: "pong"})
	default:
		c.enqueue(Frame{Action: "error", Error: "unknown action " + f.Action})
	}
}

func (c *Conn) subscribe(collection, id string) {
	if collection == "" || id == "" {
		c.enqueue(Frame{Action: "error", Error: "sub requires c and d"})
		return
	}
	key := collection + "." + id

	c.mu.Lock()
	_, exists := c.subs[key]
	closed := c.closed
	c.mu.Unlock()
	if exists || closed {
		return
	}

	// Subscribe before reading so no commit between the two is missed.
	changes, cancel, err := c.transport.backend.Subscribe(c.ctx, collection, id)
	if err != nil {
		c.enqueue(Frame{Action: "error", Collection: collection, ID: id, Error: err.Error()})
		return
	}
	doc, err := c.transport.backend.CheckRead(c.ctx, c.UserID, collection, id)
	if err != nil {
		cancel()
		c.enqueue(Frame{Action: "error", Collection: collection, ID: id, Error: err.Error()})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.subs[key] = cancel
	c.mu.Unlock()

	snap := Frame{Action: "snapshot", Collection: collection, ID: id}
	if doc != nil {
		snap.Version = doc.Version
		snap.Data = doc.Data
	}
	c.enqueue(snap)

	go func() {
		for ch := range changes {
			c.enqueue(Frame{
				Action:     "op",
				Collection: ch.Collection,
				ID:         ch.ID,
				Version:    ch.Version,
				Data:       ch.Data,
				Deleted:    ch.Deleted,
			})
		}
	}()
}

func (c *Conn) unsubscribe(collection, id string) {
	key := collection + "." + id
	c.mu.Lock()
	cancel, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// enqueue queues f for the write loop. A full queue closes the connection.
func (c *Conn) enqueue(f Frame) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	default:
		c.transport.logger.Warn("closing connection", "conn_id", c.ID, "error", ErrSlowConsumer)
		go c.Close()
	}
}

func (c *Conn) writeLoop() {
	cfg := c.transport.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				go c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				go c.Close()
				return
			}
		}
	}
}
