package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/goalchat/internal/middleware"
	"github.com/noah-isme/goalchat/internal/service"
)

var errForbidden = errors.New("not a participant of this chat")

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func passThrough(handler fiber.Handler) fiber.Handler {
	if handler != nil {
		return handler
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}

// statusForError translates chat errors into HTTP statuses. Backend failures
// never expose their cause.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, errForbidden):
		return fiber.StatusForbidden, errForbidden.Error()
	case errors.Is(err, service.ErrInvalidIdentifier):
		return fiber.StatusBadRequest, "invalid identifier"
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, "not found"
	case errors.Is(err, service.ErrBackendUnavailable), errors.Is(err, service.ErrConflictOnCreate):
		return fiber.StatusServiceUnavailable, "chat temporarily unavailable"
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}
