package pubsub

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
)

// SelectConfig describes which fan-out a process should use.
type SelectConfig struct {
	RedisURL string
	NoRedis  bool
	WSBusURL string
	NoWSBus  bool

	// FlushRedis runs FlushOnFirstInstance after connecting to Redis.
	FlushRedis bool
	Hostname   string

	// TLS, if set, is used for the Redis connection.
	TLS *tls.Config

	Logger *slog.Logger
}

// Select returns Redis when a Redis URL is configured and not disabled,
// otherwise the websocket bus under the same rules, otherwise the
// in-process implementation.
func Select(ctx context.Context, cfg SelectConfig) (PubSub, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case cfg.RedisURL != "" && !cfg.NoRedis:
		client, err := NewRedisClient(cfg.RedisURL, cfg.TLS)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub: connect redis: %w", err)
		}
		if cfg.FlushRedis {
			if _, err := FlushOnFirstInstance(ctx, client, cfg.Hostname, logger); err != nil {
				_ = client.Close()
				return nil, err
			}
		}
		logger.Info("pubsub selected", "kind", "redis")
		return NewRedis(client, logger), nil

	case cfg.WSBusURL != "" && !cfg.NoWSBus:
		bus, err := DialWSBus(ctx, cfg.WSBusURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("pubsub selected", "kind", "wsbus")
		return bus, nil

	default:
		logger.Info("pubsub selected", "kind", "memory")
		return NewMemory(logger), nil
	}
}

// LoadTLS builds a client TLS config from a certificate and key file.
// It returns nil when both paths are empty.
func LoadTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("pubsub: both ssl cert and key are required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("pubsub: load ssl key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
