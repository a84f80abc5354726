// Package pubsub fans out document change notifications between server
// processes.
//
// A single process can use the in-memory implementation. Horizontally
// scaled deployments use Redis, or a websocket message bus when Redis is
// unavailable. Select picks one from the process environment.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed PubSub or Subscription.
var ErrClosed = errors.New("pubsub: closed")

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Data    []byte
}

// Subscription delivers messages published to one channel.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Close() error
}

// PubSub publishes to and subscribes on named channels.
type PubSub interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// subscriptionBuffer is the per-subscriber queue depth. A subscriber that
// falls this far behind loses messages rather than blocking publishers.
const subscriptionBuffer = 64
