// Package broadcast pushes live game events to connected monitors.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const gameChannelPrefix = "game:"

// Channel delivers a payload to every current subscriber of key.
// Delivery is best-effort: there is no replay and no acknowledgement.
type Channel interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// GameChannel returns the channel key of a game.
func GameChannel(gameID int64) string {
	return fmt.Sprintf("%s%d", gameChannelPrefix, gameID)
}

// ParseGameChannel extracts the game id from a channel key.
func ParseGameChannel(key string) (int64, bool) {
	raw, ok := strings.CutPrefix(key, gameChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// EventType names the kind of a broadcast event.
type EventType string

const (
	EventSubmission EventType = "submission"
	EventNotice     EventType = "notice"
)

// Event is the envelope written to subscribers.
type Event struct {
	Type   EventType       `json:"type"`
	GameID int64           `json:"gameId"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}
