package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
	appErr "ctfboard/pkg/errors"
)

// SnapshotBuilder materializes the scoreboard of one game from the store.
type SnapshotBuilder interface {
	Build(ctx context.Context, gameID int64) (*model.ScoreboardSnapshot, error)
}

// Builder reads the store and ranks every accepted team.
type Builder struct {
	games          repository.GameRepository
	challenges     repository.ChallengeRepository
	participations repository.ParticipationRepository
	submissions    repository.SubmissionRepository
	tieBreak       TieBreak
	now            func() time.Time
}

// NewBuilder creates a snapshot builder ranking equal scores by tieBreak,
// which defaults to TieBreakSubmissionTime.
func NewBuilder(
	games repository.GameRepository,
	challenges repository.ChallengeRepository,
	participations repository.ParticipationRepository,
	submissions repository.SubmissionRepository,
	tieBreak TieBreak,
	now func() time.Time,
) *Builder {
	if tieBreak == "" {
		tieBreak = TieBreakSubmissionTime
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{
		games:          games,
		challenges:     challenges,
		participations: participations,
		submissions:    submissions,
		tieBreak:       tieBreak,
		now:            now,
	}
}

// Build computes a fresh snapshot. Only enabled challenges appear, and only
// the first accepted submission of a team on a challenge counts.
func (b *Builder) Build(ctx context.Context, gameID int64) (*model.ScoreboardSnapshot, error) {
	game, err := b.games.Get(ctx, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrGameNotFound) {
			return nil, appErr.New(appErr.GameNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.ScoreboardBuildFailed, "load game %d", gameID)
	}
	challenges, err := b.challenges.ListByGame(ctx, gameID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ScoreboardBuildFailed, "load challenges of game %d", gameID)
	}
	teams, err := b.participations.ListAccepted(ctx, gameID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ScoreboardBuildFailed, "load participations of game %d", gameID)
	}
	accepted, err := b.submissions.ListAccepted(ctx, gameID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ScoreboardBuildFailed, "load submissions of game %d", gameID)
	}

	enabled := make(map[int64]*model.Challenge, len(challenges))
	for _, c := range challenges {
		if c.IsEnabled {
			enabled[c.ID] = c
		}
	}
	teamSet := make(map[int64]struct{}, len(teams))
	for _, p := range teams {
		teamSet[p.TeamID] = struct{}{}
	}

	type solveKey struct{ team, challenge int64 }
	first := make(map[solveKey]*model.Submission)
	solvedBy := make(map[int64]int)
	for _, sub := range accepted {
		if _, ok := enabled[sub.ChallengeID]; !ok {
			continue
		}
		if _, ok := teamSet[sub.TeamID]; !ok {
			continue
		}
		k := solveKey{sub.TeamID, sub.ChallengeID}
		prev, ok := first[k]
		if !ok {
			solvedBy[sub.ChallengeID]++
			first[k] = sub
			continue
		}
		if sub.SubmitTimeUtc.Before(prev.SubmitTimeUtc) {
			first[k] = sub
		}
	}

	scores := make(map[int64]int, len(enabled))
	columns := make(map[string][]model.ChallengeInfo)
	for _, c := range challenges {
		if !c.IsEnabled {
			continue
		}
		score := c.CurrentScore(solvedBy[c.ID])
		scores[c.ID] = score
		columns[c.Category] = append(columns[c.Category], model.ChallengeInfo{
			ID:          c.ID,
			Title:       c.Title,
			Category:    c.Category,
			Score:       score,
			SolvedCount: solvedBy[c.ID],
		})
	}
	for _, infos := range columns {
		sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	}

	items := make([]model.ScoreboardItem, 0, len(teams))
	for _, p := range teams {
		item := model.ScoreboardItem{
			TeamID:       p.TeamID,
			TeamName:     p.TeamName,
			Organization: p.Organization,
		}
		for _, c := range challenges {
			sub, ok := first[solveKey{p.TeamID, c.ID}]
			if !ok {
				continue
			}
			item.SolvedChallenges = append(item.SolvedChallenges, model.ChallengeItem{
				ID:            c.ID,
				Score:         scores[c.ID],
				UserID:        sub.UserID,
				SubmitTimeUtc: sub.SubmitTimeUtc,
			})
		}
		summarize(&item)
		items = append(items, item)
	}
	sortItems(items, b.tieBreak)
	assignRanks(items)

	now := b.now().UTC()
	return &model.ScoreboardSnapshot{
		GameID:        gameID,
		Version:       now.UnixMilli(),
		UpdateTimeUtc: now,
		StartTimeUtc:  game.StartTimeUtc,
		EndTimeUtc:    game.EndTimeUtc,
		Challenges:    columns,
		Items:         items,
	}, nil
}
