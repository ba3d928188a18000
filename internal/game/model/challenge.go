package model

import (
	"math"
	"time"
)

// ChallengeType selects flag and container handling.
type ChallengeType string

const (
	StaticAttachment  ChallengeType = "StaticAttachment"
	StaticContainer   ChallengeType = "StaticContainer"
	DynamicAttachment ChallengeType = "DynamicAttachment"
	DynamicContainer  ChallengeType = "DynamicContainer"
)

// IsDynamic reports whether each team gets its own flag.
func (t ChallengeType) IsDynamic() bool {
	return t == DynamicAttachment || t == DynamicContainer
}

// IsContainer reports whether the challenge runs per-team containers.
func (t ChallengeType) IsContainer() bool {
	return t == StaticContainer || t == DynamicContainer
}

// Challenge is a game challenge together with its lifecycle state.
//
// CanSubmit is forced false once the clock reaches EndAt. IsEnabled
// flips to true at most once, when the clock enters [EnableAt, EndAt).
type Challenge struct {
	ID            int64         `json:"id"`
	GameID        int64         `json:"gameId"`
	Title         string        `json:"title"`
	Category      string        `json:"category"`
	Type          ChallengeType `json:"type"`
	OriginalScore int           `json:"originalScore"`
	MinScoreRate  float64       `json:"minScoreRate"`
	Difficulty    float64       `json:"difficulty"`
	AcceptedCount int           `json:"acceptedCount"`
	IsEnabled     bool          `json:"isEnabled"`
	CanSubmit     bool          `json:"canSubmit"`
	EnableAt      *time.Time    `json:"enableAt,omitempty"`
	EndAt         *time.Time    `json:"endAt,omitempty"`
	// Flags holds the accepted answers of static challenges.
	Flags []string `json:"-"`
}

// HasWindow reports whether both lifecycle bounds are set.
func (c *Challenge) HasWindow() bool {
	return c.EnableAt != nil && c.EndAt != nil
}

// ShouldEnable reports whether the challenge must be enabled at now.
func (c *Challenge) ShouldEnable(now time.Time) bool {
	return c.HasWindow() && !c.IsEnabled && !c.EnableAt.After(now) && c.EndAt.After(now)
}

// ShouldClose reports whether submission must be closed at now.
func (c *Challenge) ShouldClose(now time.Time) bool {
	return c.IsEnabled && c.CanSubmit && c.EndAt != nil && !c.EndAt.After(now)
}

// Submittable reports whether answers are accepted at now. Passing EndAt
// closes the challenge even before the scheduler clears CanSubmit.
func (c *Challenge) Submittable(now time.Time) bool {
	if c.EndAt != nil && !now.Before(*c.EndAt) {
		return false
	}
	return c.IsEnabled && c.CanSubmit
}

// CurrentScore returns the points awarded for a solve given the number of teams that solved it.
func (c *Challenge) CurrentScore(acceptedCount int) int {
	return DynamicScore(c.OriginalScore, c.MinScoreRate, c.Difficulty, acceptedCount)
}

// DynamicScore decays original towards original*minRate as more teams solve.
// difficulty <= 0 disables decay.
func DynamicScore(original int, minRate, difficulty float64, acceptedCount int) int {
	if difficulty <= 0 || acceptedCount <= 1 {
		return original
	}
	if minRate < 0 {
		minRate = 0
	}
	if minRate > 1 {
		minRate = 1
	}
	min := float64(original) * minRate
	score := min + (float64(original)-min)*math.Exp(float64(1-acceptedCount)/difficulty)
	return int(math.Floor(score))
}

// Instance is a team's copy of a challenge.
type Instance struct {
	ID              int64  `json:"id"`
	ChallengeID     int64  `json:"challengeId"`
	ParticipationID int64  `json:"participationId"`
	IsSolved        bool   `json:"isSolved"`
	Flag            string `json:"-"`
	ContainerID     *int64 `json:"containerId,omitempty"`
}

// Container is a running challenge environment.
type Container struct {
	ID           int64     `json:"id"`
	InstanceID   int64     `json:"instanceId"`
	GameID       int64     `json:"gameId"`
	RuntimeID    string    `json:"runtimeId"`
	Image        string    `json:"image"`
	StartedAt    time.Time `json:"startedAt"`
	ExpectStopAt time.Time `json:"expectStopAt"`
}
