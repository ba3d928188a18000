package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// ChallengeRepository reads challenges and applies lifecycle transitions.
type ChallengeRepository interface {
	Get(ctx context.Context, gameID, challengeID int64) (*model.Challenge, error)
	ListByGame(ctx context.Context, gameID int64) ([]*model.Challenge, error)
	// Enable flips IsEnabled from false to true. It reports false when another
	// writer already enabled the challenge.
	Enable(ctx context.Context, gameID, challengeID int64) (bool, error)
	// CloseSubmission flips CanSubmit from true to false, reporting whether this call changed it.
	CloseSubmission(ctx context.Context, gameID, challengeID int64) (bool, error)
}

// MySQLChallengeRepository implements ChallengeRepository with MySQL.
type MySQLChallengeRepository struct {
	db db.Database
}

// NewChallengeRepository creates a challenge repository.
func NewChallengeRepository(database db.Database) *MySQLChallengeRepository {
	return &MySQLChallengeRepository{db: database}
}

const challengeColumns = "id, game_id, title, category, type, original_score, min_score_rate, difficulty, " +
	"accepted_count, is_enabled, can_submit, enable_at, end_at, flags"

// Get returns one challenge of a game.
func (r *MySQLChallengeRepository) Get(ctx context.Context, gameID, challengeID int64) (*model.Challenge, error) {
	query := "SELECT " + challengeColumns + " FROM game_challenges WHERE id = ? AND game_id = ? LIMIT 1"
	c, err := scanChallenge(r.db.QueryRow(ctx, query, challengeID, gameID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListByGame returns all challenges of a game ordered by id.
func (r *MySQLChallengeRepository) ListByGame(ctx context.Context, gameID int64) ([]*model.Challenge, error) {
	query := "SELECT " + challengeColumns + " FROM game_challenges WHERE game_id = ? ORDER BY id"
	rows, err := r.db.Query(ctx, query, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var challenges []*model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

// Enable marks the challenge enabled exactly once.
func (r *MySQLChallengeRepository) Enable(ctx context.Context, gameID, challengeID int64) (bool, error) {
	query := "UPDATE game_challenges SET is_enabled = 1 WHERE id = ? AND game_id = ? AND is_enabled = 0"
	return r.execChanged(ctx, query, challengeID, gameID)
}

// CloseSubmission stops accepting answers for the challenge.
func (r *MySQLChallengeRepository) CloseSubmission(ctx context.Context, gameID, challengeID int64) (bool, error) {
	query := "UPDATE game_challenges SET can_submit = 0 WHERE id = ? AND game_id = ? AND can_submit = 1"
	return r.execChanged(ctx, query, challengeID, gameID)
}

func (r *MySQLChallengeRepository) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanChallenge(row db.Row) (*model.Challenge, error) {
	c := &model.Challenge{}
	var (
		challengeType string
		enableAt      sql.NullTime
		endAt         sql.NullTime
		flags         []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.GameID,
		&c.Title,
		&c.Category,
		&challengeType,
		&c.OriginalScore,
		&c.MinScoreRate,
		&c.Difficulty,
		&c.AcceptedCount,
		&c.IsEnabled,
		&c.CanSubmit,
		&enableAt,
		&endAt,
		&flags,
	); err != nil {
		return nil, err
	}
	c.Type = model.ChallengeType(challengeType)
	if enableAt.Valid {
		t := enableAt.Time.UTC()
		c.EnableAt = &t
	}
	if endAt.Valid {
		t := endAt.Time.UTC()
		c.EndAt = &t
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &c.Flags); err != nil {
			return nil, fmt.Errorf("decode flags of challenge %d: %w", c.ID, err)
		}
	}
	return c, nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

var _ ChallengeRepository = (*MySQLChallengeRepository)(nil)
