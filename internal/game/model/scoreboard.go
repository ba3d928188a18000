package model

import "time"

// ScoreboardSnapshot is the ranked state of one game at UpdateTimeUtc.
// Snapshots are never mutated after publication; filters build new views.
type ScoreboardSnapshot struct {
	GameID        int64                      `json:"gameId"`
	Version       int64                      `json:"version"`
	UpdateTimeUtc time.Time                  `json:"updateTimeUtc"`
	StartTimeUtc  time.Time                  `json:"startTimeUtc"`
	EndTimeUtc    time.Time                  `json:"endTimeUtc"`
	Challenges    map[string][]ChallengeInfo `json:"challenges"`
	Items         []ScoreboardItem           `json:"items"`
}

// ChallengeInfo describes one challenge column of the scoreboard.
type ChallengeInfo struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
	SolvedCount int    `json:"solved"`
}

// ScoreboardItem is one team row.
//
// Score equals the sum of SolvedChallenges scores. Rank is 1..N in
// list order. OrganizationRank is 1..K within the team's organization
// and 0 when Organization is empty.
type ScoreboardItem struct {
	TeamID             int64           `json:"id"`
	TeamName           string          `json:"name"`
	Organization       string          `json:"organization,omitempty"`
	Score              int             `json:"score"`
	SolvedCount        int             `json:"solvedCount"`
	LastSubmissionTime time.Time       `json:"lastSubmissionTime"`
	Rank               int             `json:"rank"`
	OrganizationRank   int             `json:"organizationRank,omitempty"`
	SolvedChallenges   []ChallengeItem `json:"solvedChallenges"`
}

// ChallengeItem is one solved challenge of a team.
type ChallengeItem struct {
	ID            int64     `json:"id"`
	Score         int       `json:"score"`
	UserID        int64     `json:"userId"`
	SubmitTimeUtc time.Time `json:"time"`
}

// Clone returns a deep copy of the item.
func (i ScoreboardItem) Clone() ScoreboardItem {
	out := i
	out.SolvedChallenges = append([]ChallengeItem(nil), i.SolvedChallenges...)
	return out
}
