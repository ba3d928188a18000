package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ctfboard/internal/common/metrics"
	"ctfboard/internal/game/model"
	appErr "ctfboard/pkg/errors"
)

// Policy selects how much of a submission is published.
type Policy string

const (
	// PolicyFull publishes every submission field.
	PolicyFull Policy = "full"
	// PolicyRedacted omits the answer and the submitting user.
	PolicyRedacted Policy = "redacted"
)

// SubmissionView is the published form of a submission.
type SubmissionView struct {
	ID            int64              `json:"id"`
	ChallengeID   int64              `json:"challengeId"`
	TeamID        int64              `json:"teamId"`
	UserID        int64              `json:"userId,omitempty"`
	Answer        string             `json:"answer,omitempty"`
	Status        model.AnswerResult `json:"status"`
	SubmitTimeUtc time.Time          `json:"submitTimeUtc"`
}

// Gateway turns domain changes into events on a Channel.
type Gateway struct {
	channel Channel
	policy  Policy
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGateway creates a gateway. An empty policy means PolicyRedacted.
func NewGateway(channel Channel, policy Policy, m *metrics.Metrics) (*Gateway, error) {
	if channel == nil {
		return nil, fmt.Errorf("broadcast channel is required")
	}
	switch policy {
	case "":
		policy = PolicyRedacted
	case PolicyFull, PolicyRedacted:
	default:
		return nil, fmt.Errorf("unknown broadcast policy %q", policy)
	}
	return &Gateway{channel: channel, policy: policy, metrics: m, now: time.Now}, nil
}

// PublishSubmission announces an accepted submission. Other statuses are not published.
func (g *Gateway) PublishSubmission(ctx context.Context, gameID int64, submission *model.Submission) error {
	if submission == nil || submission.Status != model.Accepted {
		return nil
	}
	view := SubmissionView{
		ID:            submission.ID,
		ChallengeID:   submission.ChallengeID,
		TeamID:        submission.TeamID,
		Status:        submission.Status,
		SubmitTimeUtc: submission.SubmitTimeUtc,
	}
	if g.policy == PolicyFull {
		view.UserID = submission.UserID
		view.Answer = submission.Answer
	}
	return g.publish(ctx, gameID, EventSubmission, view)
}

// PublishNotice announces a game notice.
func (g *Gateway) PublishNotice(ctx context.Context, gameID int64, notice *model.GameNotice) error {
	if notice == nil {
		return nil
	}
	return g.publish(ctx, gameID, EventNotice, notice)
}

func (g *Gateway) publish(ctx context.Context, gameID int64, typ EventType, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return appErr.Wrapf(err, appErr.BroadcastFailed, "marshal %s event", typ)
	}
	payload, err := json.Marshal(Event{Type: typ, GameID: gameID, Time: g.now().UTC(), Data: body})
	if err != nil {
		return appErr.Wrapf(err, appErr.BroadcastFailed, "marshal %s event", typ)
	}
	err = g.channel.Publish(ctx, GameChannel(gameID), payload)
	g.metrics.Broadcast(err)
	if err != nil {
		return appErr.Wrapf(err, appErr.BroadcastFailed, "publish %s event", typ)
	}
	return nil
}
