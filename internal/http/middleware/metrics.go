package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP metrics of the tutoring API. Routes are labelled by their template and
// grouped into areas (contents, sessions, ai, review, notes, progress, ops)
// so dashboards can split AI-backed latency from plain storage reads.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route template, area and status.",
		},
		[]string{"method", "route", "area", "status"},
	)

	// AI-backed routes run for seconds, so the buckets reach a minute.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method", "route", "area"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "In-flight HTTP requests by area.",
		},
		[]string{"area"},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response sizes by area.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"area"},
	)

	idempotentReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a stored idempotent response.",
		},
		[]string{"route"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limit tier.",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, idempotentReplays, rateLimited)
}

// unmatchedRoute labels requests no route matched, keeping raw URLs out of
// the label space.
const unmatchedRoute = "unmatched"

// Metrics records request count, latency, in-flight and response size.
// base is the API prefix (for example "/api/v1") stripped before the area is
// read from the route's first segment.
func Metrics(base string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		area := routeArea(route, base)

		start := time.Now()
		inflight := httpInflight.WithLabelValues(area)
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		method := c.Request.Method
		httpReqs.WithLabelValues(method, route, area, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route, area).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(area).Observe(float64(size))
		}
	}
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return unmatchedRoute
}

// routeArea maps a route template to its area. Routes outside base (health,
// metrics, docs) are "ops".
func routeArea(route, base string) string {
	if route == unmatchedRoute {
		return unmatchedRoute
	}
	base = strings.TrimRight(base, "/")
	if base != "" {
		rest, ok := strings.CutPrefix(route, base+"/")
		if !ok {
			return "ops"
		}
		route = rest
	} else {
		route = strings.TrimPrefix(route, "/")
	}
	first, _, _ := strings.Cut(route, "/")
	switch first {
	case "contents", "sessions", "ai", "review", "notes", "progress":
		return first
	default:
		return "ops"
	}
}
