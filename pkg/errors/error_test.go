package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	. "ctfboard/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{GameNotFound, "Game not found"},
		{SubmissionClosed, "Submission is closed for this challenge"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{ValidationFailed, 400},
		{ScoreboardFilterInvalid, 400},
		{SubmissionClosed, 403},
		{ChallengeNotFound, 404},
		{GameNotFound, 404},
		{RecomputeQueueFull, 429},
		{DatabaseError, 503},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ChallengeNotFound, "challenge %d not found", int64(7))

	if err.Code != ChallengeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ChallengeNotFound)
	}
	if err.Error() != "challenge 7 not found" {
		t.Errorf("Error() = %v", err.Error())
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(TeamNotFound), want: TeamNotFound},
		{name: "fmt wrapped", err: fmt.Errorf("submit: %w", New(SubmissionClosed)), want: SubmissionClosed},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(GameNotFound)

	if !Is(err, GameNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, GameNotFound) {
		t.Error("Is() should return false for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transient store", err: TransientStoreError(errors.New("deadlock"), "insert submission"), want: true},
		{name: "cache", err: New(CacheError), want: true},
		{name: "validation", err: ValidationError("answer", "empty"), want: false},
		{name: "not found", err: New(ChallengeNotFound), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("answer", "empty")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "answer" {
			t.Error("Field detail not set")
		}
	})

	t.Run("FilterError", func(t *testing.T) {
		cause := errors.New("missing closing )")
		err := FilterError("title", cause)
		if err.Code != ScoreboardFilterInvalid {
			t.Error("FilterError should use ScoreboardFilterInvalid code")
		}
		if !errors.Is(err, cause) {
			t.Error("FilterError should keep the cause")
		}
	})

	t.Run("SubmissionClosedError", func(t *testing.T) {
		err := SubmissionClosedError(1, 2)
		if err.Code != SubmissionClosed {
			t.Error("SubmissionClosedError should use SubmissionClosed code")
		}
		if err.Details["challenge_id"] != int64(2) {
			t.Error("challenge detail not set")
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		err := InternalError(errors.New("db error"))
		if err.Code != InternalServerError {
			t.Error("InternalError should use InternalServerError code")
		}
	})
}

func TestStackRecordsCallSite(t *testing.T) {
	err := New(RecomputeFailed)
	if !strings.Contains(err.Stack(), "TestStackRecordsCallSite") {
		t.Fatalf("stack does not include the caller:%s", err.Stack())
	}
	if strings.Contains(err.Stack(), "errors.build") {
		t.Fatalf("stack should start at the caller:%s", err.Stack())
	}
}
