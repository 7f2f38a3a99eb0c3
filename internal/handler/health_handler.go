package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/goalchat/internal/config"
	"github.com/noah-isme/goalchat/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	Service          string    `json:"service"`
	Environment      string    `json:"environment"`
	RateLimitBackend string    `json:"rate_limit_backend"`
}

// HealthCheck returns a handler that reports application health information.
// rateLimitBackend is the counter backend actually selected at startup.
func HealthCheck(cfg config.Config, rateLimitBackend string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:           "ok",
			Timestamp:        time.Now().UTC(),
			Service:          cfg.AppName,
			Environment:      cfg.AppEnv,
			RateLimitBackend: rateLimitBackend,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
