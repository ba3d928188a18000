package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"ctfboard/pkg/utils/contextkey"
	"ctfboard/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
	teamIDHeader    = "X-Team-Id"
)

// Gin keys of the int64 identities forwarded by the auth proxy.
var (
	UserIDContextKey = contextkey.UserID.Name()
	TeamIDContextKey = contextkey.TeamID.Name()
)

// TraceContextMiddleware copies trace and request ids into the request context,
// generating them when absent, and echoes them on the response. Identity headers
// are trusted as set by the upstream proxy; malformed or non-positive ids are dropped.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, h := range []struct {
			header string
			key    contextkey.Key
		}{
			{traceIDHeader, contextkey.TraceID},
			{requestIDHeader, contextkey.RequestID},
		} {
			id := strings.TrimSpace(c.GetHeader(h.header))
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(h.key.Name(), id)
			c.Header(h.header, id)
			ctx = context.WithValue(ctx, h.key, id)
		}

		if id, ok := positiveHeader(c, userIDHeader); ok {
			c.Set(UserIDContextKey, id)
			ctx = context.WithValue(ctx, contextkey.UserID, id)
		}
		if id, ok := positiveHeader(c, teamIDHeader); ok {
			c.Set(TeamIDContextKey, id)
			ctx = context.WithValue(ctx, contextkey.TeamID, id)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger writes one access log line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Int64FromContext reads an identity stored by TraceContextMiddleware.
func Int64FromContext(c *gin.Context, key string) (int64, bool) {
	v, _ := c.Get(key)
	id, ok := v.(int64)
	return id, ok
}

func positiveHeader(c *gin.Context, header string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(header)), 10, 64)
	return id, err == nil && id > 0
}
