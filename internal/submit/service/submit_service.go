package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ctfboard/internal/common/cache"
	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
	appErr "ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	rateTeamKeyPrefix     = "submit:rate:team:"
	defaultMaxAnswerBytes = 1024
)

// RecomputeEnqueuer accepts recompute requests.
type RecomputeEnqueuer interface {
	Enqueue(ctx context.Context, req model.RecomputeRequest) error
}

// SubmissionPublisher pushes processed submissions to live monitors.
type SubmissionPublisher interface {
	PublishSubmission(ctx context.Context, gameID int64, submission *model.Submission) error
}

// RateLimitConfig holds per-team throttling.
type RateLimitConfig struct {
	TeamMax int           `yaml:"teamMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB    time.Duration `yaml:"db"`
	Cache time.Duration `yaml:"cache"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Games          repository.GameRepository
	Challenges     repository.ChallengeRepository
	Participations repository.ParticipationRepository
	Submissions    repository.SubmissionRepository
	Instances      repository.InstanceRepository
	Cheats         repository.CheatRepository
	Queue          RecomputeEnqueuer
	Invalidator    ScoreboardInvalidator
	Publisher      SubmissionPublisher
	// Cache backs the rate limiter; nil disables it.
	Cache   cache.Cache
	Metrics *metrics.Metrics

	MaxAnswerBytes int
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
	Clock          func() time.Time
}

// SubmitService verifies answers and records them.
type SubmitService struct {
	games          repository.GameRepository
	challenges     repository.ChallengeRepository
	participations repository.ParticipationRepository
	submissions    repository.SubmissionRepository
	cheats         repository.CheatRepository
	queue          RecomputeEnqueuer
	invalidator    ScoreboardInvalidator
	publisher      SubmissionPublisher
	cache          cache.Cache
	metrics        *metrics.Metrics
	verifier       *verifier
	locks          keyedLock

	maxAnswerBytes int
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
	now            func() time.Time
}

// SubmitInput is one answer attempt.
type SubmitInput struct {
	GameID      int64
	ChallengeID int64
	TeamID      int64
	UserID      int64
	Answer      string
}

// SubmissionResult is returned to the submitter.
type SubmissionResult struct {
	SubmissionID  int64              `json:"submissionId"`
	Status        model.AnswerResult `json:"status"`
	SubmitTimeUtc time.Time          `json:"submitTimeUtc"`
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Games == nil || cfg.Challenges == nil || cfg.Participations == nil || cfg.Submissions == nil {
		return nil, fmt.Errorf("game, challenge, participation and submission repositories are required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("recompute queue is required")
	}
	if cfg.Invalidator == nil {
		return nil, fmt.Errorf("scoreboard invalidator is required")
	}
	if cfg.MaxAnswerBytes <= 0 {
		cfg.MaxAnswerBytes = defaultMaxAnswerBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SubmitService{
		games:          cfg.Games,
		challenges:     cfg.Challenges,
		participations: cfg.Participations,
		submissions:    cfg.Submissions,
		cheats:         cfg.Cheats,
		queue:          cfg.Queue,
		invalidator:    cfg.Invalidator,
		publisher:      cfg.Publisher,
		cache:          cfg.Cache,
		metrics:        cfg.Metrics,
		verifier:       &verifier{instances: cfg.Instances},
		maxAnswerBytes: cfg.MaxAnswerBytes,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		now:            cfg.Clock,
	}, nil
}

// Submit verifies an answer, persists it with its final status and, when
// it solves the challenge, schedules the scoreboard recompute.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*SubmissionResult, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.TeamID); err != nil {
		return nil, err
	}

	challenge, participation, err := s.loadTarget(ctx, input)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(input.TeamID, input.ChallengeID)
	submission, v, err := s.verifyAndStore(ctx, input, challenge, participation)
	unlock()
	if err != nil {
		return nil, err
	}
	s.metrics.SubmissionProcessed(string(submission.Status))

	logger.Info(ctx, "submission processed",
		zap.Int64("submission_id", submission.ID),
		zap.Int64("game_id", submission.GameID),
		zap.Int64("challenge_id", submission.ChallengeID),
		zap.String("status", string(submission.Status)),
	)

	switch submission.Status {
	case model.CheatDetected:
		s.recordCheat(ctx, submission, v.cheatOwner)
	case model.Accepted:
		s.scheduleRecompute(ctx, submission)
	}
	s.publish(ctx, submission)

	return &SubmissionResult{
		SubmissionID:  submission.ID,
		Status:        submission.Status,
		SubmitTimeUtc: submission.SubmitTimeUtc,
	}, nil
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	if input.GameID <= 0 {
		return appErr.ValidationError("game_id", "required")
	}
	if input.ChallengeID <= 0 {
		return appErr.ValidationError("challenge_id", "required")
	}
	if input.TeamID <= 0 {
		return appErr.ValidationError("team_id", "required")
	}
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(input.Answer) == "" {
		return appErr.ValidationError("answer", "required")
	}
	if len(input.Answer) > s.maxAnswerBytes {
		return appErr.New(appErr.AnswerTooLarge).WithDetail("max_bytes", s.maxAnswerBytes)
	}
	return nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, teamID int64) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || s.rateLimit.TeamMax <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	key := rateTeamKeyPrefix + fmt.Sprintf("%d", teamID)
	count, err := s.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		// Fail open.
		logger.Warn(ctx, "rate limit check failed", zap.Error(err))
		return nil
	}
	if count == 1 {
		_ = s.cache.Expire(ctxCache.ctx, key, s.rateLimit.Window)
	}
	if int(count) > s.rateLimit.TeamMax {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *SubmitService) loadTarget(ctx context.Context, input SubmitInput) (*model.Challenge, *model.Participation, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	game, err := s.games.Get(ctxDB.ctx, input.GameID)
	if err != nil {
		return nil, nil, mapStoreError(err, "get game")
	}
	now := s.now()
	if now.Before(game.StartTimeUtc) {
		return nil, nil, appErr.New(appErr.GameNotStarted).WithDetail("game_id", game.ID)
	}
	if !now.Before(game.EndTimeUtc) {
		return nil, nil, appErr.New(appErr.GameEnded).WithDetail("game_id", game.ID)
	}

	challenge, err := s.challenges.Get(ctxDB.ctx, input.GameID, input.ChallengeID)
	if err != nil {
		return nil, nil, mapStoreError(err, "get challenge")
	}
	if !challenge.Submittable(now) {
		return nil, nil, appErr.SubmissionClosedError(input.GameID, input.ChallengeID)
	}

	participation, err := s.participations.GetByTeam(ctxDB.ctx, input.GameID, input.TeamID)
	if err != nil {
		return nil, nil, mapStoreError(err, "get participation")
	}
	if participation.Status != model.ParticipationAccepted {
		return nil, nil, appErr.New(appErr.ParticipationPending).WithDetail("team_id", input.TeamID)
	}
	return challenge, participation, nil
}

// verifyAndStore must run under the (team, challenge) lock.
func (s *SubmitService) verifyAndStore(
	ctx context.Context,
	input SubmitInput,
	challenge *model.Challenge,
	participation *model.Participation,
) (*model.Submission, verdict, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	solved, err := s.submissions.HasAccepted(ctxDB.ctx, input.GameID, input.ChallengeID, input.TeamID)
	if err != nil {
		return nil, verdict{}, appErr.TransientStoreError(err, "check accepted submission")
	}
	v, err := s.verifier.verify(ctxDB.ctx, challenge, participation, input.Answer, solved)
	if err != nil {
		return nil, verdict{}, appErr.TransientStoreError(err, "verify answer")
	}

	submission := &model.Submission{
		GameID:        input.GameID,
		ChallengeID:   input.ChallengeID,
		TeamID:        input.TeamID,
		UserID:        input.UserID,
		Answer:        strings.TrimSpace(input.Answer),
		Status:        v.status,
		SubmitTimeUtc: s.now().UTC(),
	}
	if err := s.submissions.Create(ctxDB.ctx, submission); err != nil {
		return nil, verdict{}, appErr.TransientStoreError(err, "create submission")
	}
	return submission, v, nil
}

func (s *SubmitService) scheduleRecompute(ctx context.Context, submission *model.Submission) {
	req := model.RecomputeRequest{GameID: submission.GameID, ChallengeID: submission.ChallengeID}
	err := s.queue.Enqueue(ctx, req)
	if err == nil {
		return
	}
	logger.Warn(ctx, "enqueue recompute failed, invalidating scoreboard directly",
		zap.Int64("game_id", req.GameID),
		zap.Int64("challenge_id", req.ChallengeID),
		zap.Error(err),
	)
	if err := s.invalidator.Invalidate(ctx, req.GameID); err != nil {
		logger.Error(ctx, "fallback scoreboard invalidation failed",
			zap.Int64("game_id", req.GameID),
			zap.Error(err),
		)
	}
}

func (s *SubmitService) recordCheat(ctx context.Context, submission *model.Submission, owner *model.Participation) {
	if owner == nil {
		return
	}
	logger.Warn(ctx, "answer matched another team's flag",
		zap.Int64("submission_id", submission.ID),
		zap.Int64("team_id", submission.TeamID),
		zap.Int64("owner_team_id", owner.TeamID),
	)
	if s.cheats == nil {
		return
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	info := &model.CheatInfo{
		GameID:       submission.GameID,
		ChallengeID:  submission.ChallengeID,
		SubmissionID: submission.ID,
		SubmitTeamID: submission.TeamID,
		OwnerTeamID:  owner.TeamID,
	}
	if err := s.cheats.Add(ctxDB.ctx, info); err != nil {
		logger.Error(ctx, "record cheat failed", zap.Int64("submission_id", submission.ID), zap.Error(err))
	}
}

func (s *SubmitService) publish(ctx context.Context, submission *model.Submission) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSubmission(ctx, submission.GameID, submission); err != nil {
		logger.Warn(ctx, "publish submission failed",
			zap.Int64("submission_id", submission.ID),
			zap.Error(err),
		)
	}
}

func mapStoreError(err error, op string) error {
	switch {
	case errors.Is(err, repository.ErrGameNotFound):
		return appErr.New(appErr.GameNotFound)
	case errors.Is(err, repository.ErrChallengeNotFound):
		return appErr.New(appErr.ChallengeNotFound)
	case errors.Is(err, repository.ErrParticipationNotFound):
		return appErr.New(appErr.ParticipationNotFound)
	}
	var coded *appErr.Error
	if errors.As(err, &coded) {
		return err
	}
	return appErr.TransientStoreError(err, op)
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: c, cancel: cancel}
}
