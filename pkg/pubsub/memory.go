package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// hub is the local subscriber registry shared by the in-process and
// websocket-bus implementations.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[*localSub]struct{}
	closed bool
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{subs: make(map[string]map[*localSub]struct{}), logger: logger}
}

// add registers a subscriber and reports whether it is the first on channel.
func (h *hub) add(channel string, onLast func()) (*localSub, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false, ErrClosed
	}
	s := &localSub{hub: h, channel: channel, ch: make(chan Message, subscriptionBuffer), onLast: onLast}
	set := h.subs[channel]
	first := set == nil
	if first {
		set = make(map[*localSub]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	return s, first, nil
}

// remove unregisters s and reports whether channel has no subscribers left.
func (h *hub) remove(s *localSub) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.channel]
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(h.subs, s.channel)
		return true
	}
	return false
}

func (h *hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[msg.Channel] {
		select {
		case s.ch <- msg:
		default:
			h.logger.Warn("pubsub subscriber lagging, message dropped", "channel", msg.Channel)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
	}
	h.subs = nil
}

func (h *hub) channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for ch := range h.subs {
		out = append(out, ch)
	}
	return out
}

type localSub struct {
	hub     *hub
	channel string
	ch      chan Message
	once    sync.Once
	onLast  func()
}

func (s *localSub) Messages() <-chan Message { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() {
		if s.hub.remove(s) && s.onLast != nil {
			s.onLast()
		}
	})
	return nil
}

// Memory is an in-process PubSub.
type Memory struct {
	hub *hub
}

// NewMemory creates an in-process PubSub.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{hub: newHub(logger)}
}

// Publish implements PubSub. Delivery is synchronous into subscriber buffers.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hub.mu.Lock()
	closed := m.hub.closed
	m.hub.mu.Unlock()
	if closed {
		return ErrClosed
	}
	m.hub.deliver(Message{Channel: channel, Data: append([]byte(nil), data...)})
	return nil
}

// Subscribe implements PubSub.
func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, _, err := m.hub.add(channel, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close implements PubSub.
func (m *Memory) Close() error {
	m.hub.close()
	return nil
}
