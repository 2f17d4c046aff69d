package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the learner identity until an auth layer sets
	// the "userID" context value itself.
	HeaderUserID = "X-User-ID"

	// AnonymousUser owns every request that names no learner.
	AnonymousUser = "demo-user"

	userIDKey = "userID"
)

// UserID returns the learner a request acts for: the "userID" context value,
// then the X-User-ID header, then AnonymousUser.
func UserID(c *gin.Context) string {
	if id, ok := lookupUserID(c); ok {
		return id
	}
	return AnonymousUser
}

func lookupUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
			return h, true
		}
	}
	return "", false
}
