package service

import (
	"context"
	"fmt"
	"strings"
)

// Config holds scoreboard presentation settings.
type Config struct {
	TieBreak         TieBreak `yaml:"tieBreak"`
	PublicTrackLabel string   `yaml:"publicTrackLabel"`
}

// ScoreboardService serves filtered scoreboards from the cache.
type ScoreboardService struct {
	cache       *CacheManager
	tieBreak    TieBreak
	publicLabel string
}

// NewScoreboardService creates a scoreboard service.
func NewScoreboardService(cacheManager *CacheManager, cfg Config) (*ScoreboardService, error) {
	if cacheManager == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	switch cfg.TieBreak {
	case "":
		cfg.TieBreak = TieBreakSubmissionTime
	case TieBreakSubmissionTime, TieBreakNone:
	default:
		return nil, fmt.Errorf("unknown tie break %q", cfg.TieBreak)
	}
	if cfg.PublicTrackLabel == "" {
		cfg.PublicTrackLabel = DefaultPublicTrackLabel
	}
	return &ScoreboardService{
		cache:       cacheManager,
		tieBreak:    cfg.TieBreak,
		publicLabel: cfg.PublicTrackLabel,
	}, nil
}

// GetScoreboard returns the scoreboard of a game narrowed by the given filters.
// Empty filters select everything.
func (s *ScoreboardService) GetScoreboard(ctx context.Context, gameID int64, organization, titlePattern, category string) (*FilteredView, error) {
	snapshot, err := s.cache.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return Filter(snapshot, FilterOptions{
		Organization: strings.TrimSpace(organization),
		TitlePattern: strings.TrimSpace(titlePattern),
		Category:     strings.TrimSpace(category),
		TieBreak:     s.tieBreak,
		PublicLabel:  s.publicLabel,
	})
}

// InvalidateScoreboard drops the cached scoreboard of a game.
func (s *ScoreboardService) InvalidateScoreboard(ctx context.Context, gameID int64) error {
	return s.cache.Invalidate(ctx, gameID)
}
