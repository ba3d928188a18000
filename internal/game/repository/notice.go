package repository

import (
	"context"
	"encoding/json"
	"time"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// NoticeRepository stores game notices.
type NoticeRepository interface {
	Add(ctx context.Context, notice *model.GameNotice) error
}

// CheatRepository records answers that matched another team's flag.
type CheatRepository interface {
	Add(ctx context.Context, info *model.CheatInfo) error
}

// MySQLNoticeRepository implements NoticeRepository with MySQL.
type MySQLNoticeRepository struct {
	db db.Database
}

// NewNoticeRepository creates a notice repository.
func NewNoticeRepository(database db.Database) *MySQLNoticeRepository {
	return &MySQLNoticeRepository{db: database}
}

func (r *MySQLNoticeRepository) Add(ctx context.Context, notice *model.GameNotice) error {
	if notice.PublishTimeUtc.IsZero() {
		notice.PublishTimeUtc = time.Now().UTC()
	}
	values, err := json.Marshal(notice.Values)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx,
		"INSERT INTO game_notices (game_id, type, `values`, publish_time_utc) VALUES (?, ?, ?, ?)",
		notice.GameID, string(notice.Type), values, notice.PublishTimeUtc,
	)
	if err != nil {
		return err
	}
	notice.ID, err = result.LastInsertId()
	return err
}

// MySQLCheatRepository implements CheatRepository with MySQL.
type MySQLCheatRepository struct {
	db db.Database
}

// NewCheatRepository creates a cheat record repository.
func NewCheatRepository(database db.Database) *MySQLCheatRepository {
	return &MySQLCheatRepository{db: database}
}

func (r *MySQLCheatRepository) Add(ctx context.Context, info *model.CheatInfo) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO cheat_infos (game_id, challenge_id, submission_id, submit_team_id, owner_team_id)
		VALUES (?, ?, ?, ?, ?)
	`, info.GameID, info.ChallengeID, info.SubmissionID, info.SubmitTeamID, info.OwnerTeamID)
	return err
}

var (
	_ NoticeRepository = (*MySQLNoticeRepository)(nil)
	_ CheatRepository  = (*MySQLCheatRepository)(nil)
)
