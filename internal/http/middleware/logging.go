// Package middleware holds the Gin middleware of the tutoring API: request
// correlation, access logging, panic recovery, metrics, security headers,
// idempotency and rate limiting.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the logged query string, in bytes.
	maxQueryLogLength = 2048
)

// RequestID reuses the inbound X-Request-ID or mints a UUID, and echoes it
// on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes one access log line per request. The request-scoped logger
// carries the learner and the session, content or note the route addresses,
// and is handed to handlers (LoggerFrom) and services (zerolog.Ctx).
// Level follows the outcome: error for 5xx or gin errors, warn for 4xx.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid, _ := c.Get(requestIDKey)

		lc := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", routeOrPath(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent())
		if uid, ok := lookupUserID(c); ok {
			lc = lc.Str("user_id", uid)
		}
		lc = withResourceIDs(lc, c)
		if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
			lc = lc.Str("idempotency_key", truncate(key, 200))
		}
		if q := c.Request.URL.RawQuery; q != "" {
			lc = lc.Str("query", truncate(q, maxQueryLogLength))
		}
		l := lc.Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.Int("status", status).
			Dur("latency", time.Since(start)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Bool("replayed", IsReplay(c)).
			Msg("request")
	}
}

// withResourceIDs names the :id path parameter after the resource the route
// addresses.
func withResourceIDs(lc zerolog.Context, c *gin.Context) zerolog.Context {
	id := c.Param("id")
	if id == "" {
		return lc
	}
	route := c.FullPath()
	switch {
	case strings.Contains(route, "/sessions/:id"):
		return lc.Str("session_id", id)
	case strings.Contains(route, "/contents/:id"):
		return lc.Str("content_id", id)
	case strings.Contains(route, "/notes/:id"):
		return lc.Str("note_id", id)
	case strings.Contains(route, "/concepts/:id"):
		return lc.Str("concept_id", id)
	}
	return lc
}

// Recovery turns a panic into the API's 500 error envelope and logs the
// stack. A response already under way is only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global one when no
// logging middleware ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func routeOrPath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to at most max bytes on a rune boundary and marks the cut.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
