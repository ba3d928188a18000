package repository

import (
	"context"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// ParticipationRepository reads team registrations.
type ParticipationRepository interface {
	GetByTeam(ctx context.Context, gameID, teamID int64) (*model.Participation, error)
	ListAccepted(ctx context.Context, gameID int64) ([]*model.Participation, error)
}

// MySQLParticipationRepository implements ParticipationRepository with MySQL.
type MySQLParticipationRepository struct {
	db db.Database
}

// NewParticipationRepository creates a participation repository.
func NewParticipationRepository(database db.Database) *MySQLParticipationRepository {
	return &MySQLParticipationRepository{db: database}
}

const participationColumns = "p.id, p.game_id, p.team_id, t.name, COALESCE(p.organization, ''), p.status"

// GetByTeam returns the participation of a team in a game.
func (r *MySQLParticipationRepository) GetByTeam(ctx context.Context, gameID, teamID int64) (*model.Participation, error) {
	query := "SELECT " + participationColumns + ` FROM participations p
		JOIN teams t ON t.id = p.team_id
		WHERE p.game_id = ? AND p.team_id = ? LIMIT 1`
	p, err := scanParticipation(r.db.QueryRow(ctx, query, gameID, teamID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrParticipationNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListAccepted returns accepted participations ordered by participation id.
func (r *MySQLParticipationRepository) ListAccepted(ctx context.Context, gameID int64) ([]*model.Participation, error) {
	query := "SELECT " + participationColumns + ` FROM participations p
		JOIN teams t ON t.id = p.team_id
		WHERE p.game_id = ? AND p.status = ? ORDER BY p.id`
	rows, err := r.db.Query(ctx, query, gameID, string(model.ParticipationAccepted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParticipation(row db.Row) (*model.Participation, error) {
	p := &model.Participation{}
	var status string
	if err := row.Scan(&p.ID, &p.GameID, &p.TeamID, &p.TeamName, &p.Organization, &status); err != nil {
		return nil, err
	}
	p.Status = model.ParticipationStatus(status)
	return p, nil
}

var _ ParticipationRepository = (*MySQLParticipationRepository)(nil)
