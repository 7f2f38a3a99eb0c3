package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/goalchat/internal/config"
	"github.com/noah-isme/goalchat/internal/handler"
	"github.com/noah-isme/goalchat/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler      *handler.ChatHandler
	JWTMiddleware    fiber.Handler
	OptionalJWT      fiber.Handler
	RateLimitBackend string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.RateLimitBackend))

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(api.Group("/chat"), handler.ChatRouteAuth{
			Required: deps.JWTMiddleware,
			Optional: deps.OptionalJWT,
		})
	}
}
