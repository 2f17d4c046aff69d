package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable code, see errors.go
	Code string `json:"code" example:"session_paused"`
	// Human-readable message
	Message string `json:"message" example:"session is paused: conflict"`
}

// fail aborts with the error envelope. Server faults are logged at error
// level and provider failures at warn, both through the request-scoped
// logger so they carry the learner and session.
func fail(c *gin.Context, status int, code, msg string) {
	switch lg := middleware.LoggerFrom(c); {
	case status == http.StatusBadGateway:
		lg.Warn().Int("status", status).Str("code", code).Str("error", msg).Msg("ai provider failure")
	case status >= http.StatusInternalServerError:
		lg.Error().Int("status", status).Str("code", code).Str("error", msg).Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer fallbacks with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
