// Package response writes the JSON envelope shared by every HTTP endpoint.
package response

import (
	"net/http"

	"ctfboard/pkg/errors"
	"ctfboard/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the body of every API reply.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    any              `json:"data,omitempty"`
	Details map[string]any   `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func write(c *gin.Context, status int, body Response) {
	if id, ok := c.Get("trace_id"); ok {
		body.TraceID, _ = id.(string)
	}
	c.JSON(status, body)
}

// Success replies 200 with data.
func Success(c *gin.Context, data any) {
	SuccessWithMessage(c, errors.Success.Message(), data)
}

func SuccessWithMessage(c *gin.Context, message string, data any) {
	write(c, http.StatusOK, Response{Code: errors.Success, Message: message, Data: data})
}

// Error maps err to its HTTP status and logs it, with the stack for server faults.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()

	fields := []zap.Field{zap.Int("code", int(e.Code)), zap.String("message", e.Error())}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", append(fields, zap.Error(e.Err), zap.String("stack", e.Stack()))...)
	} else {
		logger.Warn(ctx, "request rejected", fields...)
	}
	write(c, status, Response{Code: e.Code, Message: e.Error(), Details: e.Details})
}

// ErrorWithCode replies with code and message, falling back to the code default.
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	logger.Warn(c.Request.Context(), "request rejected", zap.Int("code", int(code)), zap.String("message", message))
	write(c, code.HTTPStatus(), Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, errors.Unauthorized, message)
}
