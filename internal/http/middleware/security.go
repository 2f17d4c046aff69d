package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// NoStore and Revalidate are route-template prefixes (matched against
// c.FullPath). AI replies and review reports go under NoStore: they are
// generated per learner and must not land in shared caches. Listings served
// with an ETag go under Revalidate so clients keep a private copy and
// revalidate with If-None-Match. NoStore wins when both match.
type SecurityOptions struct {
	EnableHSTS bool          // only set when traffic is HTTPS end-to-end
	HSTSMaxAge time.Duration // defaults to 180 days
	NoStore    []string
	Revalidate []string
}

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityHeaders sets the API's browser-facing headers and a cache policy
// per route.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")

		switch route := c.FullPath(); {
		case hasRoutePrefix(route, opt.NoStore):
			h.Set("Cache-Control", "no-store")
		case hasRoutePrefix(route, opt.Revalidate):
			h.Set("Cache-Control", "private, no-cache")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

func hasRoutePrefix(route string, prefixes []string) bool {
	if route == "" {
		return false
	}
	for _, p := range prefixes {
		if route == p || strings.HasPrefix(route, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
