package mq

import (
	"context"
	"time"
)

// Broker is a message bus that can both publish and consume.
type Broker interface {
	Producer
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

// Producer writes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers topic messages to handlers. Handlers registered before
// Start begin on Start; later ones begin immediately.
type Consumer interface {
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// HandlerFunc handles one delivered message. A non-nil error triggers a redelivery
// until the subscription retry budget is spent.
type HandlerFunc func(ctx context.Context, message *Message) error

// Message is the envelope carried on the bus.
type Message struct {
	ID      string
	Key     string // partition key, same key keeps order
	Body    []byte
	Headers map[string]string

	Timestamp  time.Time
	Expiration time.Duration // zero never expires
}

// NewMessage wraps body in an envelope stamped with the current time.
func NewMessage(body []byte) *Message {
	return &Message{Body: body, Timestamp: time.Now()}
}

// SetHeader stores an application header.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

// GetHeader reads an application header.
func (m *Message) GetHeader(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// Expired reports whether the message outlived its Expiration at now.
func (m *Message) Expired(now time.Time) bool {
	if m.Expiration <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > m.Expiration
}

// SubscribeOptions tunes one subscription. Every consumer group sees every
// message; members of one group split them.
type SubscribeOptions struct {
	ConsumerGroup string
	Concurrency   int
	MaxRetries    int // redeliveries after the first failure
	RetryDelay    time.Duration
	MessageTTL    time.Duration // applied to messages without their own expiration
}

func (o *SubscribeOptions) withDefaults(topic string) SubscribeOptions {
	var out SubscribeOptions
	if o != nil {
		out = *o
	}
	if out.ConsumerGroup == "" {
		out.ConsumerGroup = "ctfboard-" + topic
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	return out
}
