package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig lists the browser origins allowed to read the scoreboard and monitor endpoints.
type CORSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	AllowedHeaders []string      `yaml:"allowedHeaders"`
	MaxAge         time.Duration `yaml:"maxAge"`
}

var (
	corsMethods       = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ",")
	corsExposeHeaders = strings.Join([]string{traceIDHeader, requestIDHeader}, ",")
	corsDefaultHeader = strings.Join([]string{"Content-Type", traceIDHeader, requestIDHeader}, ",")
)

// CORSMiddleware answers preflight requests and sets CORS headers for allowed origins.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	allowHeaders := corsDefaultHeader
	if len(cfg.AllowedHeaders) > 0 {
		allowHeaders = strings.Join(cfg.AllowedHeaders, ",")
	}
	origins := parseOrigins(cfg.AllowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		ok := origins.listed(origin)
		if !ok && !origins.wildcard {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		if origins.wildcard && !ok {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		if cfg.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginChecker reports whether a cross-origin browser client may connect.
// It returns nil when CORS is disabled.
func OriginChecker(cfg CORSConfig) func(origin string) bool {
	if !cfg.Enabled {
		return nil
	}
	origins := parseOrigins(cfg.AllowedOrigins)
	return func(origin string) bool {
		return origins.wildcard || origins.listed(origin)
	}
}

type originSet struct {
	wildcard bool
	allowed  map[string]struct{}
}

func parseOrigins(list []string) originSet {
	set := originSet{allowed: make(map[string]struct{}, len(list))}
	for _, origin := range list {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			set.wildcard = true
		default:
			set.allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	return set
}

func (s originSet) listed(origin string) bool {
	_, ok := s.allowed[strings.ToLower(origin)]
	return ok
}
