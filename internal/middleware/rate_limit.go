package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/goalchat/internal/ratelimit"
	"github.com/noah-isme/goalchat/internal/utils"
)

// Admitter is the subset of the rate limiter used by HTTP routes.
type Admitter interface {
	AdmitEvent(ctx context.Context, event, subject string) (ratelimit.Decision, error)
}

// RateLimit admits the request under the named event policy, keyed by the
// authenticated user or the client address for anonymous callers.
func RateLimit(limiter Admitter, event string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		subject := UserID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}

		decision, err := limiter.AdmitEvent(ctx, event, subject)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		if !decision.Admitted {
			return utils.Fail(c, fiber.StatusTooManyRequests, "slow down", fiber.Map{
				"action": event,
				"reason": decision.RetryReason,
			})
		}
		return c.Next()
	}
}
