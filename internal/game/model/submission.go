package model

import "time"

// AnswerResult is the terminal verification outcome recorded on a submission.
type AnswerResult string

const (
	// FlagSubmitted marks an answer not yet verified. Intake never persists it.
	FlagSubmitted    AnswerResult = "FlagSubmitted"
	Accepted         AnswerResult = "Accepted"
	WrongAnswer      AnswerResult = "WrongAnswer"
	DuplicateIgnored AnswerResult = "DuplicateIgnored"
	CheatDetected    AnswerResult = "CheatDetected"
	NotFound         AnswerResult = "NotFound"
)

// Terminal reports whether r is a final verification outcome.
func (r AnswerResult) Terminal() bool {
	switch r {
	case Accepted, WrongAnswer, DuplicateIgnored, CheatDetected, NotFound:
		return true
	default:
		return false
	}
}

// Submission is one answer attempt by a team member. It is written once and never updated.
type Submission struct {
	ID            int64        `json:"id"`
	GameID        int64        `json:"gameId"`
	ChallengeID   int64        `json:"challengeId"`
	TeamID        int64        `json:"teamId"`
	UserID        int64        `json:"userId"`
	Answer        string       `json:"answer"`
	Status        AnswerResult `json:"status"`
	SubmitTimeUtc time.Time    `json:"submitTimeUtc"`
}

// RecomputeRequest asks for the solved state of one challenge to be re-derived.
// Processing it twice yields the same state as processing it once.
type RecomputeRequest struct {
	GameID      int64
	ChallengeID int64
}

// CheatInfo records an answer that matched another team's instance flag.
type CheatInfo struct {
	GameID       int64
	ChallengeID  int64
	SubmissionID int64
	SubmitTeamID int64
	OwnerTeamID  int64
}
