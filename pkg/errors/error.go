package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const stackDepth = 10

// Error is an application error carrying a code, a client facing message and
// optional details. The call site is recorded for server side logging.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error

	pcs []uintptr
}

func build(code ErrorCode, msg string, cause error) *Error {
	var pcs [stackDepth]uintptr
	// skip runtime.Callers, build and the exported constructor
	n := runtime.Callers(3, pcs[:])
	return &Error{Code: code, Message: msg, Err: cause, pcs: pcs[:n]}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Message()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Stack renders the frames captured at construction, one per line.
func (e *Error) Stack() string {
	if len(e.pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			return b.String()
		}
	}
}

// New returns an error with the default message of code.
func New(code ErrorCode) *Error {
	return build(code, code.Message(), nil)
}

// Newf returns an error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err, keeping its message. It returns nil for a nil err.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return build(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err. It returns nil for a nil err.
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

// WithMessage replaces the client facing message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithDetail records a key value pair returned to the client.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 2)
	}
	e.Details[key] = value
	return e
}

func find(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stdErrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// GetCode returns the code of the first Error in the chain, Success for nil and
// InternalServerError for foreign errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := find(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the first Error in the chain, wrapping foreign errors as internal.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := find(err); ok {
		return e
	}
	return build(InternalServerError, err.Error(), err)
}

// Is reports whether the chain carries an Error with code.
func Is(err error, code ErrorCode) bool {
	e, ok := find(err)
	return ok && e.Code == code
}

// IsRetryable reports whether the chain carries a transient code.
func IsRetryable(err error) bool {
	e, ok := find(err)
	return ok && e.Code.Retryable()
}

func InternalError(err error) *Error {
	if err == nil {
		return New(InternalServerError)
	}
	return build(InternalServerError, err.Error(), err)
}

func ValidationError(field, reason string) *Error {
	return build(ValidationFailed, ValidationFailed.Message(), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// FilterError reports a scoreboard filter that cannot be compiled.
func FilterError(field string, err error) *Error {
	return build(ScoreboardFilterInvalid, "invalid "+field+" filter", err).
		WithDetail("field", field)
}

// SubmissionClosedError reports a challenge that no longer accepts answers.
func SubmissionClosedError(gameID, challengeID int64) *Error {
	return build(SubmissionClosed, SubmissionClosed.Message(), nil).
		WithDetail("game_id", gameID).
		WithDetail("challenge_id", challengeID)
}

// TransientStoreError wraps a persistence failure the caller may retry.
func TransientStoreError(err error, op string) *Error {
	return build(DatabaseError, op+" failed", err).WithDetail("retryable", true)
}
