package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// busFrame is the wire format spoken with the message bus.
type busFrame struct {
	Type    string `json:"type"` // subscribe, unsubscribe, publish, message
	Channel string `json:"channel"`
	Data    []byte `json:"data,omitempty"`
}

// WSBus is a PubSub that relays through a websocket message bus. The bus
// echoes publishes to every connection subscribed to the channel,
// including the publisher's own.
type WSBus struct {
	conn   *websocket.Conn
	hub    *hub
	logger *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// DialWSBus connects to the bus at url and starts the read loop.
func DialWSBus(ctx context.Context, url string, logger *slog.Logger) (*WSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pubsub: dial wsbus: %w", err)
	}
	b := &WSBus{
		conn:         conn,
		hub:          newHub(logger),
		logger:       logger.With("component", "pubsub.wsbus"),
		writeTimeout: 10 * time.Second,
		done:         make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *WSBus) readLoop() {
	for {
		var f busFrame
		if err := b.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Error("wsbus read failed", "error", err)
			}
			b.fail(err)
			return
		}
		if f.Type != "message" && f.Type != "publish" {
			continue
		}
		b.hub.deliver(Message{Channel: f.Channel, Data: f.Data})
	}
}

func (b *WSBus) fail(err error) {
	b.errOnce.Do(func() {
		b.err = err
		close(b.done)
		b.hub.close()
	})
}

// Err returns the error that ended the connection, or nil while it is alive.
func (b *WSBus) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

func (b *WSBus) send(f busFrame) error {
	if err := b.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	if err := b.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("pubsub: wsbus write: %w", err)
	}
	return nil
}

// Publish implements PubSub.
func (b *WSBus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.send(busFrame{Type: "publish", Channel: channel, Data: data})
}

// Subscribe implements PubSub. The first local subscriber of a channel
// subscribes the connection; the last one to close unsubscribes it.
func (b *WSBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, first, err := b.hub.add(channel, func() {
		if err := b.send(busFrame{Type: "unsubscribe", Channel: channel}); err != nil && !errors.Is(err, ErrClosed) {
			b.logger.Warn("wsbus unsubscribe failed", "channel", channel, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	if first {
		if err := b.send(busFrame{Type: "subscribe", Channel: channel}); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close implements PubSub.
func (b *WSBus) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()
	b.fail(ErrClosed)
	return b.conn.Close()
}
