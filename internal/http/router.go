// Package httpapi wires the HTTP transport (Gin) to the dispatch services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-dispatch-backend/docs"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/http/handlers"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
)

// IdempotencyStore backs Idempotency-Key handling on submit-request.
// repo.IdempotencyStore implements it.
type IdempotencyStore interface {
	handlers.IdempotencyStore
	Lookup(ctx context.Context, scope, key string, now time.Time) (requestID string, found bool, err error)
}

// Deps are the collaborators the HTTP layer is built from. Optional fields
// may be nil; the matching feature is then disabled.
type Deps struct {
	Requests handlers.RequestService
	Claims   handlers.Claimer

	Idempotency IdempotencyStore
	Stamp       handlers.ListStamp
	Uploads     *handlers.Uploads
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (photo cap plus form overhead)
//  6. Gzip for responses
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per specialist/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderSpecialistID, middleware.HeaderClientID, middleware.HeaderAPIKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(bodyLimit(cfg.MaxPhotoBytes)))

	// 6) Compress JSON responses; scrapers negotiate their own encoding
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	var lookup middleware.IdempotencyLookup
	if deps.Idempotency != nil {
		lookup = deps.Idempotency.Lookup
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	// 9) Token-bucket rate limiter per specialist/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySpecialistOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderSpecialistID, middleware.HeaderClientID, middleware.HeaderIdempotencyKey,
		middleware.HeaderAPIKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotent-Replay"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
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
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotent-Replay"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	const legacySubmit = "/api/submit-request"

	// Security headers; request data carries customer phone numbers.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{joinPath(apiBase, "/requests"), joinPath(apiBase, "/submit-request"), legacySubmit},
		EnablePolicy:    true,
	}))

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
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Requests, deps.Claims)
	h.Stamp = deps.Stamp
	h.Uploads = deps.Uploads
	if deps.Idempotency != nil {
		h.Idempotency = deps.Idempotency
	}

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Requests
		api.POST("/submit-request", h.SubmitRequest)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)
		if cfg.AcceptAPIKey != "" {
			api.POST("/requests/:id/accept", middleware.RequireAPIKey(cfg.AcceptAPIKey), h.AcceptRequest)
		}
		api.GET("/stats", h.Stats)

		// Catalog
		api.GET("/service-types", h.ServiceTypes)
		api.GET("/service-types/:id/suggest", h.SuggestProblems)
	}

	// The web form posts to /api/submit-request regardless of the versioned base.
	if legacySubmit != joinPath(apiBase, "/submit-request") {
		r.POST(legacySubmit, h.SubmitRequest)
	}
}

// bodyLimit is the request body cap: one photo plus room for the text fields
// and multipart framing.
func bodyLimit(maxPhoto int64) int64 {
	if maxPhoto <= 0 {
		return 1 << 20
	}
	return maxPhoto + 1<<20
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

// joinPath appends p to a normalized base path.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
