package cache

import (
	"context"
	"time"
)

// Cache is the shared store used for read-through entries, rate counters and
// cross instance pub/sub.
type Cache interface {
	BasicOps
	PubSubOps
	Ping(ctx context.Context) error
	Close() error
}

// BasicOps are the key value commands. Get on a missing key returns "" and no error.
// A zero ttl means no expiry.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// PubSubOps is fire and forget messaging. Subscribers only see messages
// published while they are listening.
type PubSubOps interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// PSubscribe listens until ctx is done or the subscription is closed.
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
}

// Subscription streams pattern matches. Messages is closed when it ends.
type Subscription interface {
	Messages() <-chan ChannelMessage
	Close() error
}

type ChannelMessage struct {
	Channel string
	Payload []byte
}
