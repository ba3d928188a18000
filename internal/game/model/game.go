package model

import "time"

// Game is a timed competition.
type Game struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Hidden       bool      `json:"hidden"`
	StartTimeUtc time.Time `json:"startTimeUtc"`
	EndTimeUtc   time.Time `json:"endTimeUtc"`
}

// IsActive reports whether now falls inside [start, end).
func (g *Game) IsActive(now time.Time) bool {
	return !now.Before(g.StartTimeUtc) && now.Before(g.EndTimeUtc)
}

// IsUpcoming reports whether the game has not started yet.
func (g *Game) IsUpcoming(now time.Time) bool {
	return now.Before(g.StartTimeUtc)
}

// ParticipationStatus is the review state of a team's registration.
type ParticipationStatus string

const (
	ParticipationPending  ParticipationStatus = "Pending"
	ParticipationAccepted ParticipationStatus = "Accepted"
	ParticipationRejected ParticipationStatus = "Rejected"
	ParticipationBanned   ParticipationStatus = "Banned"
)

// Participation binds a team to a game. Only accepted participations are ranked.
type Participation struct {
	ID           int64               `json:"id"`
	GameID       int64               `json:"gameId"`
	TeamID       int64               `json:"teamId"`
	TeamName     string              `json:"teamName"`
	Organization string              `json:"organization,omitempty"`
	Status       ParticipationStatus `json:"status"`
}

// NoticeType classifies game notices.
type NoticeType string

const (
	NoticeNormal       NoticeType = "Normal"
	NoticeNewChallenge NoticeType = "NewChallenge"
	NoticeFirstBlood   NoticeType = "FirstBlood"
)

// GameNotice is an announcement shown to a game's participants.
type GameNotice struct {
	ID             int64      `json:"id"`
	GameID         int64      `json:"gameId"`
	Type           NoticeType `json:"type"`
	Values         []string   `json:"values"`
	PublishTimeUtc time.Time  `json:"publishTimeUtc"`
}
