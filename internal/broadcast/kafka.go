package broadcast

import (
	"context"
	"fmt"
	"time"

	"ctfboard/internal/common/mq"
	"ctfboard/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerChannel      = "x-monitor-channel"
	defaultEventTTL    = 30 * time.Second
	monitorGroupPrefix = "ctfboard-monitor-"
)

// MQChannel publishes events to a message queue topic.
type MQChannel struct {
	producer mq.Producer
	topic    string
	ttl      time.Duration
}

// NewMQChannel creates a channel writing to topic. Events older than ttl are
// skipped by relays; zero means 30 seconds.
func NewMQChannel(producer mq.Producer, topic string, ttl time.Duration) (*MQChannel, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &MQChannel{producer: producer, topic: topic, ttl: ttl}, nil
}

// Publish writes payload keyed by channel so events of one game stay ordered.
func (c *MQChannel) Publish(ctx context.Context, key string, payload []byte) error {
	msg := mq.NewMessage(payload)
	msg.ID = uuid.NewString()
	msg.Key = key
	msg.Expiration = c.ttl
	msg.SetHeader(headerChannel, key)
	return c.producer.Publish(ctx, c.topic, msg)
}

// MQRelay consumes the monitor topic and forwards events to a local hub.
// Every relay uses its own consumer group so each instance sees every event.
type MQRelay struct {
	consumer mq.Consumer
	topic    string
	group    string
	ttl      time.Duration
	hub      *Hub
}

// NewMQRelay creates a relay with a fresh consumer group.
func NewMQRelay(consumer mq.Consumer, topic string, ttl time.Duration, hub *Hub) *MQRelay {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &MQRelay{
		consumer: consumer,
		topic:    topic,
		group:    monitorGroupPrefix + uuid.NewString(),
		ttl:      ttl,
		hub:      hub,
	}
}

// Group returns the consumer group of this relay.
func (r *MQRelay) Group() string {
	return r.group
}

// Subscribe registers the relay handler on the consumer.
func (r *MQRelay) Subscribe(ctx context.Context) error {
	err := r.consumer.SubscribeWithOptions(ctx, r.topic, r.handle, &mq.SubscribeOptions{
		ConsumerGroup: r.group,
		Concurrency:   1,
		MaxRetries:    1,
		RetryDelay:    100 * time.Millisecond,
		MessageTTL:    r.ttl,
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "kafka monitor relay subscribed", zap.String("topic", r.topic), zap.String("group", r.group))
	return nil
}

func (r *MQRelay) handle(ctx context.Context, msg *mq.Message) error {
	key, ok := msg.GetHeader(headerChannel)
	if !ok || key == "" {
		key = msg.Key
	}
	if _, ok := ParseGameChannel(key); !ok {
		logger.Warn(ctx, "monitor event without game channel", zap.String("message_id", msg.ID))
		return nil
	}
	// Delivery is best-effort; a closed hub is not worth a redelivery.
	_ = r.hub.Publish(ctx, key, msg.Body)
	return nil
}
