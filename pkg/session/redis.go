package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed session store.
// It's suitable for multi-server deployments with shared session state.
type RedisStore struct {
	client        redis.UniversalClient
	prefix        string
	retryInterval time.Duration
	closed        atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets the key prefix for session keys.
// Default: "syncpage:session:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisRetryInterval sets how long Ready waits between connection
// attempts. Default: 500ms.
func WithRedisRetryInterval(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.retryInterval = d
	}
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:        client,
		prefix:        "syncpage:session:",
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Ready implements Store. It retries PING until Redis answers.
func (s *RedisStore) Ready(ctx context.Context) error {
	for {
		if s.closed.Load() {
			return ErrStoreClosed
		}
		err := s.client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session: redis not ready: %w", errors.Join(ctx.Err(), err))
		case <-time.After(s.retryInterval):
		}
	}
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(sessionID)).Err()
	}
	return s.client.Set(ctx, s.key(sessionID), data, ttl).Err()
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.key(sessionID))
	ttl := pipe.PTTL(ctx, s.key(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &Record{Data: data}
	if d := ttl.Val(); d > 0 {
		rec.ExpiresAt = time.Now().Add(d)
	}
	return rec, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Touch implements Store.
func (s *RedisStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.PExpireAt(ctx, s.key(sessionID), expiresAt).Err()
}

// Close marks the store closed. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}
