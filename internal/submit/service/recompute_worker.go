package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
	appErr "ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultRecomputeRetries    = 2
	defaultRecomputeRetryDelay = 500 * time.Millisecond
	defaultRecomputeTimeout    = 10 * time.Second
)

// ScoreboardInvalidator drops cached scoreboards of a game.
type ScoreboardInvalidator interface {
	Invalidate(ctx context.Context, gameID int64) error
}

// WorkerConfig controls retrying of failed recompute requests.
type WorkerConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RecomputeWorker drains the recompute queue with one goroutine per shard.
type RecomputeWorker struct {
	queue       *RecomputeQueue
	submissions repository.SubmissionRepository
	invalidator ScoreboardInvalidator
	metrics     *metrics.Metrics
	cfg         WorkerConfig

	wg      sync.WaitGroup
	startMu sync.Mutex
	cancel  context.CancelFunc
}

// NewRecomputeWorker creates a worker bound to queue.
func NewRecomputeWorker(
	queue *RecomputeQueue,
	submissions repository.SubmissionRepository,
	invalidator ScoreboardInvalidator,
	m *metrics.Metrics,
	cfg WorkerConfig,
) (*RecomputeWorker, error) {
	if queue == nil {
		return nil, fmt.Errorf("recompute queue is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if invalidator == nil {
		return nil, fmt.Errorf("scoreboard invalidator is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultRecomputeRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRecomputeRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRecomputeTimeout
	}
	return &RecomputeWorker{
		queue:       queue,
		submissions: submissions,
		invalidator: invalidator,
		metrics:     m,
		cfg:         cfg,
	}, nil
}

// Start launches the shard consumers. It returns immediately.
func (w *RecomputeWorker) Start(ctx context.Context) {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	for i, shard := range w.queue.shards {
		w.wg.Add(1)
		go w.run(ctx, i, shard)
	}
	logger.Info(ctx, "recompute worker started", zap.Int("shards", len(w.queue.shards)))
}

// Stop closes the queue and waits for in-flight requests to finish.
func (w *RecomputeWorker) Stop() {
	w.queue.Close()
	w.startMu.Lock()
	cancel := w.cancel
	w.startMu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *RecomputeWorker) run(ctx context.Context, shardID int, shard <-chan model.RecomputeRequest) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.done:
			return
		case req := <-shard:
			w.queue.started(req)
			err := w.process(ctx, req)
			w.metrics.Recompute(err)
			if err != nil {
				logger.Error(ctx, "recompute request dropped",
					zap.Int("shard", shardID),
					zap.Int64("game_id", req.GameID),
					zap.Int64("challenge_id", req.ChallengeID),
					zap.Error(err),
				)
			}
		}
	}
}

// process applies one request, retrying failures. It never panics the loop.
func (w *RecomputeWorker) process(ctx context.Context, req model.RecomputeRequest) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = appErr.Newf(appErr.RecomputeFailed, "recompute panic: %v", p)
		}
	}()

	for attempt := 0; ; attempt++ {
		err = w.apply(ctx, req)
		if err == nil {
			return nil
		}
		if attempt >= w.cfg.MaxRetries || ctx.Err() != nil {
			return err
		}
		logger.Warn(ctx, "recompute failed, retrying",
			zap.Int64("game_id", req.GameID),
			zap.Int64("challenge_id", req.ChallengeID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		timer := time.NewTimer(w.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (w *RecomputeWorker) apply(ctx context.Context, req model.RecomputeRequest) error {
	ctxDB := withTimeout(ctx, w.cfg.Timeout)
	defer ctxDB.cancel()

	if err := w.submissions.RecalculateChallenge(ctxDB.ctx, req.GameID, req.ChallengeID); err != nil {
		return appErr.Wrapf(err, appErr.RecomputeFailed, "recalculate challenge %d", req.ChallengeID)
	}
	if err := w.invalidator.Invalidate(ctx, req.GameID); err != nil {
		// The local entry is already stale; only the shared copy may linger until its TTL.
		logger.Warn(ctx, "scoreboard invalidation incomplete",
			zap.Int64("game_id", req.GameID),
			zap.Error(err),
		)
	}
	return nil
}
