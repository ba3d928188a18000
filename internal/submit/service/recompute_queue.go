package service

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	appErr "ctfboard/pkg/errors"
)

// Backpressure decides what Enqueue does when the target shard is full.
type Backpressure string

const (
	// BackpressureBlock waits for space until the context, the enqueue timeout or Close.
	BackpressureBlock Backpressure = "block"
	// BackpressureReject fails immediately with RecomputeQueueFull.
	BackpressureReject Backpressure = "reject"
)

const (
	defaultQueueShards   = 4
	defaultQueueCapacity = 1024
)

// QueueConfig sizes the recompute queue.
type QueueConfig struct {
	Shards         int           `yaml:"shards"`
	Capacity       int           `yaml:"capacity"`
	Backpressure   Backpressure  `yaml:"backpressure"`
	EnqueueTimeout time.Duration `yaml:"enqueueTimeout"`
}

// RecomputeQueue is a bounded queue of recompute requests sharded by game.
// Requests of one game always land on the same shard, so they are consumed
// in enqueue order. Identical requests waiting in the queue are coalesced.
type RecomputeQueue struct {
	shards  []chan model.RecomputeRequest
	policy  Backpressure
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[model.RecomputeRequest]struct{}
	closed  bool
	done    chan struct{}
}

// NewRecomputeQueue creates a queue; zero config values take defaults.
func NewRecomputeQueue(cfg QueueConfig, m *metrics.Metrics) *RecomputeQueue {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultQueueShards
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultQueueCapacity
	}
	if cfg.Backpressure == "" {
		cfg.Backpressure = BackpressureBlock
	}
	shards := make([]chan model.RecomputeRequest, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan model.RecomputeRequest, cfg.Capacity)
	}
	return &RecomputeQueue{
		shards:  shards,
		policy:  cfg.Backpressure,
		timeout: cfg.EnqueueTimeout,
		metrics: m,
		pending: make(map[model.RecomputeRequest]struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue adds req to its game's shard, applying the backpressure policy when full.
func (q *RecomputeQueue) Enqueue(ctx context.Context, req model.RecomputeRequest) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return appErr.New(appErr.RecomputeQueueClosed)
	}
	if _, ok := q.pending[req]; ok {
		q.mu.Unlock()
		return nil
	}
	q.pending[req] = struct{}{}
	q.mu.Unlock()

	shard := q.shards[q.shardFor(req.GameID)]

	if q.policy == BackpressureReject {
		select {
		case shard <- req:
			q.metrics.QueueDepth(1)
			return nil
		default:
			q.forget(req)
			return appErr.New(appErr.RecomputeQueueFull).WithDetail("game_id", req.GameID)
		}
	}

	var timeoutCh <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case shard <- req:
		q.metrics.QueueDepth(1)
		return nil
	case <-ctx.Done():
		q.forget(req)
		return appErr.Wrapf(ctx.Err(), appErr.Timeout, "enqueue recompute request")
	case <-timeoutCh:
		q.forget(req)
		return appErr.New(appErr.RecomputeQueueFull).WithDetail("game_id", req.GameID)
	case <-q.done:
		q.forget(req)
		return appErr.New(appErr.RecomputeQueueClosed)
	}
}

// Len returns the number of queued requests across shards.
func (q *RecomputeQueue) Len() int {
	n := 0
	for _, shard := range q.shards {
		n += len(shard)
	}
	return n
}

// Close stops accepting requests. Queued requests are abandoned.
func (q *RecomputeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// started clears the coalescing mark so a request arriving during processing is queued again.
func (q *RecomputeQueue) started(req model.RecomputeRequest) {
	q.metrics.QueueDepth(-1)
	q.forget(req)
}

func (q *RecomputeQueue) forget(req model.RecomputeRequest) {
	q.mu.Lock()
	delete(q.pending, req)
	q.mu.Unlock()
}

func (q *RecomputeQueue) shardFor(gameID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(gameID, 10)))
	return int(h.Sum32() % uint32(len(q.shards)))
}
