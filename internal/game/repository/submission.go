package repository

import (
	"context"
	"errors"
	"time"

	"ctfboard/internal/common/db"
	"ctfboard/internal/game/model"
)

// SubmissionRepository persists answer attempts and derives solved state from them.
type SubmissionRepository interface {
	// Create inserts a submission with its terminal status and fills in its id.
	Create(ctx context.Context, submission *model.Submission) error
	// HasAccepted reports whether the team already solved the challenge.
	HasAccepted(ctx context.Context, gameID, challengeID, teamID int64) (bool, error)
	// ListAccepted returns all accepted submissions of a game in submit order.
	ListAccepted(ctx context.Context, gameID int64) ([]*model.Submission, error)
	// RecalculateChallenge re-derives instance solved markers and the accepted
	// count of one challenge from the accepted submissions, in one transaction.
	RecalculateChallenge(ctx context.Context, gameID, challengeID int64) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

// Create inserts a submission record.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.GameID <= 0 || submission.ChallengeID <= 0 || submission.TeamID <= 0 {
		return errors.New("game, challenge and team are required")
	}
	if !submission.Status.Terminal() {
		return errors.New("submission status must be terminal")
	}
	if submission.SubmitTimeUtc.IsZero() {
		submission.SubmitTimeUtc = time.Now().UTC()
	}

	query := `
		INSERT INTO submissions
		(game_id, challenge_id, team_id, user_id, answer, status, submit_time_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(
		ctx,
		query,
		submission.GameID,
		submission.ChallengeID,
		submission.TeamID,
		submission.UserID,
		submission.Answer,
		string(submission.Status),
		submission.SubmitTimeUtc,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	submission.ID = id
	return nil
}

// HasAccepted checks for an accepted submission of the team on the challenge.
func (r *MySQLSubmissionRepository) HasAccepted(ctx context.Context, gameID, challengeID, teamID int64) (bool, error) {
	query := `
		SELECT 1 FROM submissions
		WHERE game_id = ? AND challenge_id = ? AND team_id = ? AND status = ?
		LIMIT 1
	`
	var one int
	err := r.db.QueryRow(ctx, query, gameID, challengeID, teamID, string(model.Accepted)).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListAccepted returns accepted submissions of the game ordered by time then id.
func (r *MySQLSubmissionRepository) ListAccepted(ctx context.Context, gameID int64) ([]*model.Submission, error) {
	query := `
		SELECT id, game_id, challenge_id, team_id, user_id, status, submit_time_utc
		FROM submissions
		WHERE game_id = ? AND status = ?
		ORDER BY submit_time_utc, id
	`
	rows, err := r.db.Query(ctx, query, gameID, string(model.Accepted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		s := &model.Submission{}
		var status string
		if err := rows.Scan(&s.ID, &s.GameID, &s.ChallengeID, &s.TeamID, &s.UserID, &status, &s.SubmitTimeUtc); err != nil {
			return nil, err
		}
		s.Status = model.AnswerResult(status)
		s.SubmitTimeUtc = s.SubmitTimeUtc.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecalculateChallenge resets and re-marks solved instances, then refreshes the accepted count.
func (r *MySQLSubmissionRepository) RecalculateChallenge(ctx context.Context, gameID, challengeID int64) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "UPDATE game_instances SET is_solved = 0 WHERE challenge_id = ?", challengeID); err != nil {
			return err
		}

		markSolved := `
			UPDATE game_instances i
			JOIN participations p ON p.id = i.participation_id
			SET i.is_solved = 1
			WHERE i.challenge_id = ? AND EXISTS (
				SELECT 1 FROM submissions s
				WHERE s.game_id = ? AND s.challenge_id = i.challenge_id
				AND s.team_id = p.team_id AND s.status = ?
			)
		`
		if _, err := tx.Exec(ctx, markSolved, challengeID, gameID, string(model.Accepted)); err != nil {
			return err
		}

		refreshCount := `
			UPDATE game_challenges SET accepted_count = (
				SELECT COUNT(DISTINCT s.team_id) FROM submissions s
				JOIN participations p ON p.game_id = s.game_id AND p.team_id = s.team_id
				WHERE s.game_id = ? AND s.challenge_id = ? AND s.status = ? AND p.status = ?
			)
			WHERE id = ? AND game_id = ?
		`
		_, err := tx.Exec(ctx, refreshCount,
			gameID, challengeID, string(model.Accepted), string(model.ParticipationAccepted),
			challengeID, gameID,
		)
		return err
	})
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
