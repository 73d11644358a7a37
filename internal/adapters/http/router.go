package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"
	"github.com/samirrijal/geoproof/internal/pkg/metrics"
)

// proveRequestTimeout bounds a synchronous proof: witness, Groth16 proving
// and an optional on-chain verification.
const proveRequestTimeout = 2 * time.Minute

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws"
		},
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
		SkipFailedRequests: false,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics"
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout; fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1: 15s per request, proving gets longer
	v1 := app.Group("/v1")
	v1.Get("/geofences", timeout.NewWithContext(ListGeofencesHandler(deps), 15*time.Second))
	v1.Post("/geofences", timeout.NewWithContext(RegisterGeofenceHandler(deps), 15*time.Second))
	v1.Get("/geofences/nearby", timeout.NewWithContext(NearbyGeofencesHandler(deps), 15*time.Second))
	v1.Get("/geofences/:id", timeout.NewWithContext(GetGeofenceHandler(deps), 15*time.Second))
	v1.Get("/geofences/:id/attempts", timeout.NewWithContext(GeofenceAttemptsHandler(deps), 15*time.Second))
	v1.Get("/contracts/:address/vertices", timeout.NewWithContext(ContractVerticesHandler(deps), 15*time.Second))
	v1.Get("/contracts/:address/calldata", timeout.NewWithContext(ContractCalldataHandler(deps), 15*time.Second))

	// Proofs
	v1.Post("/proofs", timeout.NewWithContext(ProveHandler(deps), proveRequestTimeout))
	v1.Post("/proofs/async", timeout.NewWithContext(ProveAsyncHandler(deps), 15*time.Second))
	v1.Post("/proofs/format", timeout.NewWithContext(FormatProofHandler(deps), 15*time.Second))
	v1.Post("/proofs/verify", timeout.NewWithContext(VerifyProofHandler(deps), 30*time.Second))

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), 15*time.Second))

	// API documentation (Swagger UI)
	SetupDocs(app, deps.SpecPath)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
