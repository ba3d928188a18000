package broadcast

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ctfboard/pkg/utils/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	maxInboundBytes     = 512
)

// ErrHubClosed is returned by Publish and Subscribe after Close.
var ErrHubClosed = errors.New("broadcast hub closed")

// HubConfig sizes per-subscriber buffers and websocket timeouts.
type HubConfig struct {
	SendBuffer   int           `yaml:"sendBuffer"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PongTimeout  time.Duration `yaml:"pongTimeout"`

	// AllowOrigin admits cross-origin monitors. Nil admits same-origin only.
	AllowOrigin func(origin string) bool `yaml:"-"`
}

// Hub fans payloads out to the subscribers of this process. A subscriber
// whose buffer is full is disconnected rather than slowing the others.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// Subscription receives the payloads published on one key.
type Subscription struct {
	hub  *Hub
	key  string
	send chan []byte
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	h := &Hub{
		cfg:  cfg,
		subs: make(map[string]map[*Subscription]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return h.cfg.AllowOrigin != nil && h.cfg.AllowOrigin(origin)
}

// Publish delivers payload to the current subscribers of key without blocking.
func (h *Hub) Publish(ctx context.Context, key string, payload []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	var slow []*Subscription
	for sub := range h.subs[key] {
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		logger.Warn(ctx, "dropping slow monitor subscriber", zap.String("channel", key))
		sub.Close()
	}
	return nil
}

// Subscribe registers a new subscriber of key.
func (h *Hub) Subscribe(key string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sub := &Subscription{hub: h, key: key, send: make(chan []byte, h.cfg.SendBuffer)}
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Count returns the number of subscribers of key.
func (h *Hub) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.send) })
		}
		delete(h.subs, key)
	}
}

// C returns the payload channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []byte {
	return s.send
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.key)
		}
	}
	s.once.Do(func() { close(s.send) })
}

// ServeWS upgrades the request and streams the events of key until the
// client goes away or is dropped.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, key string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub, err := h.Subscribe(key)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return err
	}
	logger.Info(r.Context(), "monitor connected", zap.String("channel", key))

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
	return nil
}

// readPump discards inbound frames and ends the subscription on disconnect.
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(maxInboundBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription) {
	ping := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		sub.Close()
		_ = conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
