// Package httpapi wires the HTTP transport (Gin) to the tutoring handlers,
// middleware, and route table. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-tutor-backend/internal/config"
	"github.com/tbourn/go-tutor-backend/internal/http/handlers"
	"github.com/tbourn/go-tutor-backend/internal/http/middleware"
	"github.com/tbourn/go-tutor-backend/internal/repo"
)

// maxBodyBytes caps request bodies. Content registration carries whole
// documents, so the cap is larger than a chat message would need.
const maxBodyBytes = 4 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health, metrics and docs endpoints, and
// then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. API-tier rate limiter (per learner, bypass on replay)
//  9. CORS and Security headers
//  10. Gzip for API responses
//
// AI-backed routes additionally carry the AI-tier limiter, keyed per learner
// and session.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, h *handlers.Handlers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging; redacted outside debug mode
	if cfg.GinMode == gin.DebugMode {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{
				"X-API-Key",
			},
		}))
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(cfg.APIBasePath))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per learner
	r.Use(middleware.NewRateLimiter("api", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUser()).Handler())
	aiLimit := middleware.NewRateLimiter("ai", cfg.AIRateRPS, cfg.AIRateBurst, middleware.KeyByUserSession()).Handler()

	// 9) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers. AI replies and reports are never cached; ETag
	// listings are revalidated.
	base := strings.TrimRight(cfg.APIBasePath, "/")
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore: []string{
			base + "/ai",
			base + "/review",
			base + "/progress",
			base + "/sessions/:id/interact",
			base + "/sessions/:id/interactions",
		},
		Revalidate: []string{
			base + "/sessions",
			base + "/contents",
			base + "/notes",
		},
	}))

	// 10) Compress API responses; /metrics negotiates its own encoding.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	{
		// Contents
		api.POST("/contents", h.CreateContent)
		api.GET("/contents", h.ListContents)
		api.GET("/contents/:id", h.GetContent)
		api.DELETE("/contents/:id", h.DeleteContent)
		api.POST("/contents/:id/learning-map", aiLimit, h.GenerateLearningMap)
		api.GET("/contents/:id/learning-map", h.GetLearningMap)

		// Sessions
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.PATCH("/sessions/:id", h.UpdateSession)
		api.POST("/sessions/:id/actions", h.SessionAction)
		api.POST("/sessions/:id/interact", aiLimit, h.Interact)
		api.POST("/sessions/:id/advance", h.AdvanceSession)
		api.GET("/sessions/:id/interactions", h.ListInteractions)
		api.GET("/sessions/:id/notes", h.SessionNotes)

		// AI roles
		api.GET("/ai/roles", h.ListRoles)
		ai := api.Group("/ai", aiLimit)
		ai.POST("/chat", h.Chat)
		ai.POST("/tutor/simplify", h.Simplify)
		ai.POST("/examiner/follow-up", h.FollowUp)
		ai.POST("/coach/practice", h.Practice)

		// Review
		api.GET("/review/sessions/:id/summary", aiLimit, h.SessionSummary)
		api.GET("/review/weekly", aiLimit, h.WeeklyReport)
		api.GET("/review/schedule", h.ReviewSchedule)

		// Progress
		api.GET("/progress/summary", h.ProgressSummary)
		api.GET("/progress/contents/:id", h.ContentProgress)
		api.GET("/progress/contents/:id/confidence-history", h.ConfidenceHistory)
		api.GET("/progress/contents/:id/patterns", h.StudyPatterns)
		api.GET("/progress/contents/:id/weak-areas", h.WeakAreas)
		api.GET("/progress/concepts/:id", h.ConceptProgress)
		api.GET("/progress/concepts/:id/adaptation", h.ConceptAdaptation)

		// Notes
		api.POST("/notes", h.SaveNote)
		api.GET("/notes", h.ListNotes)
		api.GET("/notes/search", h.SearchNotes)
		api.PUT("/notes/:id", h.UpdateNote)
		api.DELETE("/notes/:id", h.DeleteNote)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
