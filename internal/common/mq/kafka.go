package mq

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Envelope fields travel as reserved headers next to application headers.
const (
	metaID      = "ctfboard-id"
	metaSentAt  = "ctfboard-sent-at"
	metaExpires = "ctfboard-ttl-ms"
)

var (
	errBrokerClosed = errors.New("mq: broker closed")
	errNoTopic      = errors.New("mq: topic is required")
)

// KafkaConfig configures the kafka broker.
type KafkaConfig struct {
	Brokers      []string           `yaml:"brokers"`
	ClientID     string             `yaml:"clientId"`
	RequiredAcks kafka.RequiredAcks `yaml:"requiredAcks"`
	BatchSize    int                `yaml:"batchSize"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`
	MinBytes     int                `yaml:"minBytes"`
	MaxBytes     int                `yaml:"maxBytes"`
	MaxWait      time.Duration      `yaml:"maxWait"`
	DialTimeout  time.Duration      `yaml:"dialTimeout"`
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
	return c
}

// KafkaBroker implements Broker on top of kafka-go readers and a shared writer.
type KafkaBroker struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer
	writer *kafka.Writer

	mu      sync.Mutex
	subs    []*subscription
	running bool
	closed  bool
}

// NewKafkaBroker builds a broker. No connection is made until the first publish or Start.
func NewKafkaBroker(cfg KafkaConfig) (*KafkaBroker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("mq: brokers are required")
	}
	cfg = cfg.withDefaults()
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	return &KafkaBroker{
		cfg:    cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: cfg.RequiredAcks,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
				Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.DialContext(ctx, network, addr)
				},
			},
		},
	}, nil
}

// Publish writes message to topic.
func (b *KafkaBroker) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errNoTopic
	}
	if message == nil {
		return errors.New("mq: nil message")
	}
	return b.writer.WriteMessages(ctx, encode(topic, message))
}

// SubscribeWithOptions registers handler for topic.
func (b *KafkaBroker) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errNoTopic
	}
	if handler == nil {
		return errors.New("mq: handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		opts:    opts.withDefaults(topic),
		parent:  ctx,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	b.subs = append(b.subs, sub)
	if b.running {
		sub.start(b.newReader(sub))
	}
	return nil
}

// Start begins consumption for every registered subscription.
func (b *KafkaBroker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	if b.running {
		return nil
	}
	for _, sub := range b.subs {
		sub.start(b.newReader(sub))
	}
	b.running = true
	return nil
}

// Stop halts consumption and waits for in-flight handlers.
func (b *KafkaBroker) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, sub := range b.subs {
		errs = append(errs, sub.stop())
	}
	b.running = false
	return errors.Join(errs...)
}

// Ping dials the first broker.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	conn, err := b.dialer.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close stops consumers and flushes the writer. Calling it twice is a no-op.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return errors.Join(b.Stop(), b.writer.Close())
}

func (b *KafkaBroker) newReader(sub *subscription) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		MinBytes:    b.cfg.MinBytes,
		MaxBytes:    b.cfg.MaxBytes,
		MaxWait:     b.cfg.MaxWait,
		StartOffset: kafka.LastOffset,
		Dialer:      b.dialer,
	})
}

type subscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *subscription) start(reader *kafka.Reader) {
	ctx, cancel := context.WithCancel(s.parent)
	s.reader, s.cancel = reader, cancel

	fetched := make(chan kafka.Message, s.opts.Concurrency)
	s.wg.Add(1 + s.opts.Concurrency)
	go s.fetch(ctx, fetched)
	for range s.opts.Concurrency {
		go func() {
			defer s.wg.Done()
			for km := range fetched {
				s.deliver(ctx, km)
			}
		}()
	}
}

func (s *subscription) stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	err := s.reader.Close()
	s.reader, s.cancel = nil, nil
	return err
}

func (s *subscription) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer s.wg.Done()
	defer close(out)
	for {
		km, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || !pause(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}
		select {
		case out <- km:
		case <-ctx.Done():
			return
		}
	}
}

// deliver hands km to the handler with bounded redelivery and commits the offset
// once the message is handled, expired or out of retries.
func (s *subscription) deliver(ctx context.Context, km kafka.Message) {
	msg := decode(km)
	if msg.Expiration == 0 {
		msg.Expiration = s.opts.MessageTTL
	}
	for attempt := 0; !msg.Expired(time.Now()); attempt++ {
		if s.handler(ctx, msg) == nil || attempt >= s.opts.MaxRetries {
			break
		}
		if !pause(ctx, s.opts.RetryDelay) {
			return
		}
	}
	_ = s.reader.CommitMessages(ctx, km)
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func encode(topic string, m *Message) kafka.Message {
	sentAt := m.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+3)
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: metaSentAt, Value: []byte(strconv.FormatInt(sentAt.UnixMilli(), 10))})
	if m.ID != "" {
		headers = append(headers, kafka.Header{Key: metaID, Value: []byte(m.ID)})
	}
	if m.Expiration > 0 {
		headers = append(headers, kafka.Header{Key: metaExpires, Value: []byte(strconv.FormatInt(m.Expiration.Milliseconds(), 10))})
	}
	key := m.Key
	if key == "" {
		key = m.ID
	}
	return kafka.Message{Topic: topic, Key: []byte(key), Value: m.Body, Headers: headers, Time: sentAt}
}

func decode(km kafka.Message) *Message {
	m := &Message{Key: string(km.Key), Body: km.Value, Timestamp: km.Time}
	for _, h := range km.Headers {
		v := string(h.Value)
		switch h.Key {
		case metaID:
			m.ID = v
		case metaSentAt:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				m.Timestamp = time.UnixMilli(ms)
			}
		case metaExpires:
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				m.Expiration = time.Duration(ms) * time.Millisecond
			}
		default:
			m.SetHeader(h.Key, v)
		}
	}
	if m.ID == "" {
		m.ID = m.Key
	}
	return m
}

var _ Broker = (*KafkaBroker)(nil)
