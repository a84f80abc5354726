package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a PubSub backed by Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// NewRedis wraps client. Close closes the client.
func NewRedis(client redis.UniversalClient, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		logger: logger.With("component", "pubsub.redis"),
		subs:   make(map[*redisSub]struct{}),
	}
}

// NewRedisClient parses a redis:// or rediss:// URL. A non-nil tlsConfig
// overrides the URL's TLS settings.
func NewRedisClient(url string, tlsConfig *tls.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse redis url: %w", err)
	}
	if tlsConfig != nil {
		opts.TLSConfig = tlsConfig
	}
	return redis.NewClient(opts), nil
}

// Publish implements PubSub.
func (r *Redis) Publish(ctx context.Context, channel string, data []byte) error {
	if r.isClosed() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements PubSub. It returns once Redis confirmed the
// subscription, so messages published afterwards are never missed.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", channel, err)
	}

	s := &redisSub{owner: r, ps: ps, ch: make(chan Message, subscriptionBuffer)}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	go s.pump(r.logger)
	return s, nil
}

// Close implements PubSub.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for s := range subs {
		_ = s.ps.Close()
	}
	return r.client.Close()
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type redisSub struct {
	owner *Redis
	ps    *redis.PubSub
	ch    chan Message
	once  sync.Once
}

func (s *redisSub) pump(logger *slog.Logger) {
	defer close(s.ch)
	for m := range s.ps.Channel() {
		select {
		case s.ch <- Message{Channel: m.Channel, Data: []byte(m.Payload)}:
		default:
			logger.Warn("pubsub subscriber lagging, message dropped", "channel", m.Channel)
		}
	}
}

func (s *redisSub) Messages() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
		err = s.ps.Close()
	})
	return err
}

// IsFirstInstance reports whether hostname names the first instance of a
// cluster. Hostnames of the form app.cluster.region.N carry the instance
// number in their fourth dot-separated field; any other form counts as
// first.
func IsFirstInstance(hostname string) bool {
	parts := strings.Split(hostname, ".")
	return len(parts) < 4 || parts[3] == "1"
}

// FlushOnFirstInstance runs FLUSHDB when hostname is the first instance, so
// stale pub/sub state from a previous deployment is discarded exactly once.
func FlushOnFirstInstance(ctx context.Context, client redis.UniversalClient, hostname string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !IsFirstInstance(hostname) {
		return false, nil
	}
	res, err := client.FlushDB(ctx).Result()
	if err != nil {
		logger.Error("redis flushdb failed", "error", err)
		return false, fmt.Errorf("pubsub: flushdb: %w", err)
	}
	logger.Info("redis flushdb", "result", res)
	return true, nil
}
