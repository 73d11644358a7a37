package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Handlers that set their own header win.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/metrics":
			ttl = "no-cache"

		case path == "/graphql" || path == "/ws":
			ttl = "private, max-age=0"

		case strings.HasSuffix(path, "/attempts"):
			ttl = "no-store" // audit log changes with every attempt

		case strings.HasPrefix(path, "/v1/contracts/") && strings.HasSuffix(path, "/vertices"):
			ttl = "public, max-age=300" // mirrors the on-chain vertex cache

		case strings.HasPrefix(path, "/v1/contracts/"):
			ttl = "public, max-age=600"

		case path == "/v1/geofences" || strings.HasPrefix(path, "/v1/geofences/nearby"):
			ttl = "public, max-age=60"

		case strings.HasPrefix(path, "/v1/geofences/"):
			ttl = "public, max-age=600"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=60"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
