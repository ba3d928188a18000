// Package scheduler drives the timed lifecycle of games and challenges.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
	"ctfboard/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultInterval          = 30 * time.Second
	defaultHousekeepingEvery = 6
	defaultTickTimeout       = 25 * time.Second
)

// Orchestrator provisions challenge instances and tears down expired containers.
type Orchestrator interface {
	EnsureInstances(ctx context.Context, game *model.Game, challenge *model.Challenge) error
	GetDyingContainers(ctx context.Context) ([]*model.Container, error)
	DestroyContainer(ctx context.Context, container *model.Container) error
}

// ScoreboardCache is the part of the scoreboard cache the scheduler drives.
type ScoreboardCache interface {
	Invalidate(ctx context.Context, gameID int64) error
	Bootstrap(ctx context.Context, gameID int64) error
}

// NoticePublisher broadcasts game notices.
type NoticePublisher interface {
	PublishNotice(ctx context.Context, gameID int64, notice *model.GameNotice) error
}

// Config controls tick cadence.
type Config struct {
	Interval          time.Duration `yaml:"interval"`
	HousekeepingEvery int           `yaml:"housekeepingEvery"`
	TickTimeout       time.Duration `yaml:"tickTimeout"`
}

// Deps are the collaborators of a Scheduler. Notices and Publisher are optional.
type Deps struct {
	Games        repository.GameRepository
	Challenges   repository.ChallengeRepository
	Notices      repository.NoticeRepository
	Orchestrator Orchestrator
	Scoreboards  ScoreboardCache
	Publisher    NoticePublisher
	Metrics      *metrics.Metrics
	Clock        func() time.Time
}

// Scheduler enables and closes challenges on schedule and runs periodic housekeeping.
type Scheduler struct {
	deps  Deps
	cfg   Config
	guard Guard
	ticks int

	startMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Games == nil || deps.Challenges == nil {
		return nil, fmt.Errorf("game and challenge repositories are required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if deps.Scoreboards == nil {
		return nil, fmt.Errorf("scoreboard cache is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HousekeepingEvery <= 0 {
		cfg.HousekeepingEvery = defaultHousekeepingEvery
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = defaultTickTimeout
	}
	return &Scheduler{deps: deps, cfg: cfg}, nil
}

// State reports whether a tick is in progress.
func (s *Scheduler) State() State {
	return s.guard.State()
}

// OnSchedulerTick runs one tick for an external timer driver.
func (s *Scheduler) OnSchedulerTick(ctx context.Context) bool {
	return s.Tick(ctx)
}

// Tick runs one lifecycle pass. It returns false when another tick is still running.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.guard.TryEnter() {
		s.deps.Metrics.SchedulerTick(false)
		logger.Debug(ctx, "scheduler tick skipped, previous tick still running")
		return false
	}
	defer s.guard.Leave()
	s.deps.Metrics.SchedulerTick(true)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	housekeeping := s.ticks%s.cfg.HousekeepingEvery == 0
	s.ticks++

	now := s.deps.Clock().UTC()
	games, err := s.deps.Games.ListAll(ctx)
	if err != nil {
		logger.Error(ctx, "scheduler list games failed", zap.Error(err))
	}
	for _, game := range games {
		s.processGame(ctx, game, now)
	}

	if housekeeping {
		s.destroyDyingContainers(ctx)
		s.bootstrapUpcoming(ctx, now)
	}
	return true
}

// Start ticks immediately and then every Interval until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		s.spawnTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.spawnTick(ctx)
			}
		}
	}()
	logger.Info(ctx, "scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("housekeeping_every", s.cfg.HousekeepingEvery),
	)
}

// Stop cancels the loop and waits for running ticks.
func (s *Scheduler) Stop() {
	s.startMu.Lock()
	cancel := s.cancel
	s.startMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) spawnTick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				logger.Error(ctx, "scheduler tick panic", zap.Any("panic", p))
			}
		}()
		s.Tick(ctx)
	}()
}

func (s *Scheduler) processGame(ctx context.Context, game *model.Game, now time.Time) {
	fields := []zap.Field{zap.Int64("game_id", game.ID)}
	challenges, err := s.deps.Challenges.ListByGame(ctx, game.ID)
	if err != nil {
		logger.Error(ctx, "scheduler list challenges failed", append(fields, zap.Error(err))...)
		return
	}

	changed := false
	for _, challenge := range challenges {
		switch {
		case challenge.ShouldEnable(now):
			if s.enable(ctx, game, challenge, now) {
				changed = true
			}
		case challenge.ShouldClose(now):
			ok, err := s.deps.Challenges.CloseSubmission(ctx, game.ID, challenge.ID)
			if err != nil {
				logger.Error(ctx, "close challenge submission failed",
					append(fields, zap.Int64("challenge_id", challenge.ID), zap.Error(err))...)
				continue
			}
			if ok {
				changed = true
				logger.Info(ctx, "challenge submission closed", append(fields, zap.Int64("challenge_id", challenge.ID))...)
			}
		}
	}

	if changed {
		if err := s.deps.Scoreboards.Invalidate(ctx, game.ID); err != nil {
			logger.Warn(ctx, "scoreboard invalidation failed", append(fields, zap.Error(err))...)
		}
	}
}

// enable reports whether this call flipped the challenge.
func (s *Scheduler) enable(ctx context.Context, game *model.Game, challenge *model.Challenge, now time.Time) bool {
	fields := []zap.Field{zap.Int64("game_id", game.ID), zap.Int64("challenge_id", challenge.ID)}
	ok, err := s.deps.Challenges.Enable(ctx, game.ID, challenge.ID)
	if err != nil {
		logger.Error(ctx, "enable challenge failed", append(fields, zap.Error(err))...)
		return false
	}
	if !ok {
		return false
	}
	challenge.IsEnabled = true
	logger.Info(ctx, "challenge enabled", fields...)

	if err := s.deps.Orchestrator.EnsureInstances(ctx, game, challenge); err != nil {
		logger.Error(ctx, "ensure challenge instances failed", append(fields, zap.Error(err))...)
	}
	if game.IsActive(now) {
		s.announce(ctx, game, challenge, now)
	}
	return true
}

func (s *Scheduler) announce(ctx context.Context, game *model.Game, challenge *model.Challenge, now time.Time) {
	notice := &model.GameNotice{
		GameID:         game.ID,
		Type:           model.NoticeNewChallenge,
		Values:         []string{challenge.Title},
		PublishTimeUtc: now,
	}
	if s.deps.Notices != nil {
		if err := s.deps.Notices.Add(ctx, notice); err != nil {
			logger.Error(ctx, "save new challenge notice failed",
				zap.Int64("game_id", game.ID), zap.Int64("challenge_id", challenge.ID), zap.Error(err))
			return
		}
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishNotice(ctx, game.ID, notice); err != nil {
			logger.Warn(ctx, "broadcast new challenge notice failed",
				zap.Int64("game_id", game.ID), zap.Int64("challenge_id", challenge.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) destroyDyingContainers(ctx context.Context) {
	containers, err := s.deps.Orchestrator.GetDyingContainers(ctx)
	if err != nil {
		logger.Error(ctx, "list dying containers failed", zap.Error(err))
		return
	}
	for _, c := range containers {
		if err := s.deps.Orchestrator.DestroyContainer(ctx, c); err != nil {
			logger.Error(ctx, "destroy container failed",
				zap.Int64("container_id", c.ID), zap.String("runtime_id", c.RuntimeID), zap.Error(err))
		}
	}
}

func (s *Scheduler) bootstrapUpcoming(ctx context.Context, now time.Time) {
	games, err := s.deps.Games.ListUpcoming(ctx, now)
	if err != nil {
		logger.Error(ctx, "list upcoming games failed", zap.Error(err))
		return
	}
	for _, game := range games {
		if err := s.deps.Scoreboards.Bootstrap(ctx, game.ID); err != nil {
			logger.Warn(ctx, "scoreboard bootstrap failed", zap.Int64("game_id", game.ID), zap.Error(err))
		}
	}
}
