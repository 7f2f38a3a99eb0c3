package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/goalchat/internal/middleware"
	"github.com/noah-isme/goalchat/internal/ratelimit"
)

func TestRateLimitRejectsAfterPolicyMax(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(0), map[string]ratelimit.Policy{
		ratelimit.EventFetchHistory: {Max: 2, Window: time.Minute},
	}, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get("X-Test-User"); user != "" {
			c.Locals("user_id", user)
		}
		return c.Next()
	})
	app.Get("/", middleware.RateLimit(limiter, ratelimit.EventFetchHistory), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	request := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		return perform(t, app, req).StatusCode
	}

	require.Equal(t, fiber.StatusOK, request("alice"))
	require.Equal(t, fiber.StatusOK, request("alice"))
	require.Equal(t, fiber.StatusTooManyRequests, request("alice"))
	require.Equal(t, fiber.StatusOK, request("bob"))

	require.Equal(t, fiber.StatusOK, request(""))
	require.Equal(t, fiber.StatusOK, request(""))
	require.Equal(t, fiber.StatusTooManyRequests, request(""))
}

func TestRateLimitWithoutLimiterPassesThrough(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.RateLimit(nil, ratelimit.EventFetchHistory), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
