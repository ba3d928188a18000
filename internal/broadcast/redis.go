package broadcast

import (
	"context"
	"strings"

	"ctfboard/internal/common/cache"
	"ctfboard/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultRedisPrefix = "ctfboard:monitor:"

// RedisChannel publishes events through Redis pub/sub.
type RedisChannel struct {
	pubsub cache.PubSubOps
	prefix string
}

// NewRedisChannel creates a Redis channel. Keys are published under prefix.
func NewRedisChannel(pubsub cache.PubSubOps, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisChannel{pubsub: pubsub, prefix: prefix}
}

// Publish sends payload to the Redis channel of key.
func (c *RedisChannel) Publish(ctx context.Context, key string, payload []byte) error {
	return c.pubsub.Publish(ctx, c.prefix+key, payload)
}

// RedisRelay forwards Redis pub/sub events of every game to a local hub.
type RedisRelay struct {
	pubsub cache.PubSubOps
	prefix string
	hub    *Hub
}

// NewRedisRelay creates a relay reading the channels written by NewRedisChannel with the same prefix.
func NewRedisRelay(pubsub cache.PubSubOps, prefix string, hub *Hub) *RedisRelay {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRelay{pubsub: pubsub, prefix: prefix, hub: hub}
}

// Run subscribes and forwards until ctx is done or the subscription ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub, err := r.pubsub.PSubscribe(ctx, r.prefix+gameChannelPrefix+"*")
	if err != nil {
		return err
	}
	defer sub.Close()
	logger.Info(ctx, "redis monitor relay started", zap.String("prefix", r.prefix))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			key := strings.TrimPrefix(msg.Channel, r.prefix)
			if err := r.hub.Publish(ctx, key, msg.Payload); err != nil {
				return err
			}
		}
	}
}
