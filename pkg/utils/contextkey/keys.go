// Package contextkey holds the request scoped values shared by middleware and logging.
package contextkey

// Key is a context key for a request scoped value.
type Key string

// Name is the log field name used for the value.
func (k Key) Name() string { return string(k) }

const (
	TraceID   Key = "trace_id"
	RequestID Key = "request_id"
	UserID    Key = "user_id"
	TeamID    Key = "team_id"
	GameID    Key = "game_id"
)

// Logged lists the keys copied onto every contextual log entry, in field order.
var Logged = []Key{TraceID, RequestID, UserID, TeamID, GameID}
