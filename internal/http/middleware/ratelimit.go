package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Rate limiting runs in two tiers. The "api" tier meters every request per
// learner. The "ai" tier sits on the routes that spend provider tokens and is
// keyed per learner and session, so a learner's sessions are metered
// independently.

const (
	// bucketIdleTTL is how long an untouched bucket is remembered. A bucket
	// that comes back after eviction starts full.
	bucketIdleTTL = 10 * time.Minute

	// retryAfterUnbounded is advertised when a request can never fit the
	// bucket (burst smaller than the request or a zero rate).
	retryAfterUnbounded = 60

	// ErrCodeTooManyRequests is the error code of a 429 response.
	ErrCodeTooManyRequests = "too_many_requests"
)

// KeyFunc derives the bucket a request is metered against.
type KeyFunc func(*gin.Context) string

// KeyByUser meters per learner, or per client IP for requests that name no
// learner.
func KeyByUser() KeyFunc {
	return func(c *gin.Context) string {
		if id, ok := lookupUserID(c); ok {
			return "user:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByUserSession narrows KeyByUser to the session on routes shaped
// ".../sessions/:id...".
func KeyByUserSession() KeyFunc {
	byUser := KeyByUser()
	return func(c *gin.Context) string {
		key := byUser(c)
		if id := c.Param("id"); id != "" && strings.Contains(c.FullPath(), "/sessions/:id") {
			key += ":session:" + id
		}
		return key
	}
}

// RateLimiter keeps one token bucket per key. Idle buckets expire from a
// go-cache store.
type RateLimiter struct {
	tier  string
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu      sync.Mutex
	buckets *cache.Cache
}

// NewRateLimiter builds a limiter for tier that refills rps tokens per second
// up to burst. A burst below 1 is raised to 1.
func NewRateLimiter(tier string, rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		tier:    tier,
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: cache.New(bucketIdleTTL, 2*bucketIdleTTL),
	}
}

// bucket returns the limiter for key and pushes its expiry out.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		rl.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets.SetDefault(key, lim)
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler meters each request. A rejected request gets 429 with a
// Retry-After computed from the bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := time.Now()
		res := rl.bucket(rl.keyFn(c)).ReserveN(now, 1)
		if res.OK() {
			delay := res.DelayFrom(now)
			if delay == 0 {
				c.Next()
				return
			}
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		} else {
			c.Header("Retry-After", strconv.Itoa(retryAfterUnbounded))
		}

		rateLimited.WithLabelValues(rl.tier).Inc()
		rid, _ := c.Get(requestIDKey)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": asString(rid),
			"code":       ErrCodeTooManyRequests,
			"message":    rl.tier + " rate limit exceeded",
		})
	}
}
