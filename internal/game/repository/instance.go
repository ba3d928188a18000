package repository

import (
	"context"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// InstanceRepository manages per-team challenge instances and their flags.
type InstanceRepository interface {
	// Flag returns the instance flag of a participation, empty when not generated yet.
	Flag(ctx context.Context, challengeID, participationID int64) (string, error)
	// FindFlagOwner returns the participation owning flag on a challenge.
	FindFlagOwner(ctx context.Context, challengeID int64, flag string) (*model.Participation, bool, error)
	// EnsureForChallenge creates missing instances for every accepted participation
	// and returns how many were created.
	EnsureForChallenge(ctx context.Context, gameID, challengeID int64) (int64, error)
}

// MySQLInstanceRepository implements InstanceRepository with MySQL.
type MySQLInstanceRepository struct {
	db db.Database
}

// NewInstanceRepository creates an instance repository.
func NewInstanceRepository(database db.Database) *MySQLInstanceRepository {
	return &MySQLInstanceRepository{db: database}
}

func (r *MySQLInstanceRepository) Flag(ctx context.Context, challengeID, participationID int64) (string, error) {
	query := `
		SELECT COALESCE(flag, '') FROM game_instances
		WHERE challenge_id = ? AND participation_id = ? LIMIT 1
	`
	var flag string
	if err := r.db.QueryRow(ctx, query, challengeID, participationID).Scan(&flag); err != nil {
		if db.IsNoRows(err) {
			return "", ErrInstanceNotFound
		}
		return "", err
	}
	return flag, nil
}

func (r *MySQLInstanceRepository) FindFlagOwner(ctx context.Context, challengeID int64, flag string) (*model.Participation, bool, error) {
	query := "SELECT " + participationColumns + ` FROM game_instances i
		JOIN participations p ON p.id = i.participation_id
		JOIN teams t ON t.id = p.team_id
		WHERE i.challenge_id = ? AND i.flag = ? LIMIT 1`
	p, err := scanParticipation(r.db.QueryRow(ctx, query, challengeID, flag))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *MySQLInstanceRepository) EnsureForChallenge(ctx context.Context, gameID, challengeID int64) (int64, error) {
	query := `
		INSERT IGNORE INTO game_instances (challenge_id, participation_id, is_solved)
		SELECT ?, p.id, 0 FROM participations p
		WHERE p.game_id = ? AND p.status = ?
	`
	result, err := r.db.Exec(ctx, query, challengeID, gameID, string(model.ParticipationAccepted))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ InstanceRepository = (*MySQLInstanceRepository)(nil)
