package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Team & Participation errors
// 12000-12999: Challenge module errors
// 13000-13999: Submission & Recompute errors
// 14000-14999: Game & Scoreboard errors
// 15000-15999: Broadcast & Container errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	StartupFailed       ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Team & Participation Errors (11000-11999) ==========

	TeamNotFound          ErrorCode = 11000
	ParticipationNotFound ErrorCode = 11001
	ParticipationPending  ErrorCode = 11002

	// ========== Challenge Errors (12000-12999) ==========

	ChallengeNotFound    ErrorCode = 12000
	ChallengeNotEnabled  ErrorCode = 12001
	InstanceNotFound     ErrorCode = 12100
	InstanceFlagNotReady ErrorCode = 12101

	// ========== Submission & Recompute Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	AnswerTooLarge         ErrorCode = 13002
	SubmitTooFrequently    ErrorCode = 13004
	SubmissionClosed       ErrorCode = 13005

	// Recompute (13100-13199)
	RecomputeQueueFull   ErrorCode = 13100
	RecomputeQueueClosed ErrorCode = 13101
	RecomputeFailed      ErrorCode = 13102

	// ========== Game & Scoreboard Errors (14000-14999) ==========

	// Game basic (14000-14099)
	GameNotFound   ErrorCode = 14000
	GameNotStarted ErrorCode = 14001
	GameEnded      ErrorCode = 14002

	// Scoreboard (14200-14299)
	ScoreboardNotAvailable  ErrorCode = 14200
	ScoreboardBuildFailed   ErrorCode = 14201
	ScoreboardFilterInvalid ErrorCode = 14202

	// ========== Broadcast & Container Errors (15000-15999) ==========

	BroadcastFailed        ErrorCode = 15000
	ContainerNotFound      ErrorCode = 15100
	ContainerDestroyFailed ErrorCode = 15101
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	StartupFailed:       "Service failed to start",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Team
	TeamNotFound:          "Team not found",
	ParticipationNotFound: "Team is not participating in this game",
	ParticipationPending:  "Participation has not been accepted",

	// Challenge
	ChallengeNotFound:    "Challenge not found",
	ChallengeNotEnabled:  "Challenge is not enabled",
	InstanceNotFound:     "Challenge instance not found",
	InstanceFlagNotReady: "Challenge instance flag is not ready",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	AnswerTooLarge:         "Answer is too large",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionClosed:       "Submission is closed for this challenge",

	// Recompute
	RecomputeQueueFull:   "Recompute queue is full, please try again later",
	RecomputeQueueClosed: "Recompute queue is closed",
	RecomputeFailed:      "Failed to recompute challenge state",

	// Game
	GameNotFound:   "Game not found",
	GameNotStarted: "Game has not started yet",
	GameEnded:      "Game has ended",

	// Scoreboard
	ScoreboardNotAvailable:  "Scoreboard is not available",
	ScoreboardBuildFailed:   "Failed to build scoreboard",
	ScoreboardFilterInvalid: "Invalid scoreboard filter",

	// Broadcast & Container
	BroadcastFailed:        "Failed to broadcast event",
	ContainerNotFound:      "Container not found",
	ContainerDestroyFailed: "Failed to destroy container",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == SubmissionClosed, c == ChallengeNotEnabled, c == ParticipationPending:
		return 403
	case c == GameNotStarted, c == GameEnded:
		return 403
	case c == NotFound, c == RecordNotFound, c == GameNotFound, c == ChallengeNotFound,
		c == TeamNotFound, c == ParticipationNotFound, c == SubmissionNotFound, c == InstanceNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently, c == RecomputeQueueFull:
		return 429
	case c == ServiceUnavailable, c == DatabaseError, c == TransactionFailed, c == CacheError,
		c == ScoreboardNotAvailable, c == ScoreboardBuildFailed:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == AnswerTooLarge, c == ScoreboardFilterInvalid:
		return 400
	default:
		return 500
	}
}

// Retryable reports whether an operation failing with this code may succeed when repeated.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ServiceUnavailable, Timeout, DatabaseError, TransactionFailed, CacheError, CacheSetFailed,
		RecomputeQueueFull, ScoreboardBuildFailed, ScoreboardNotAvailable:
		return true
	default:
		return false
	}
}
