package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/goalchat/internal/utils"
)

var (
	errTokenMissing = errors.New("authorization header missing")
	errTokenInvalid = errors.New("invalid token")
)

// JWTProtected returns a middleware that validates JWT bearer tokens and
// rejects requests without one.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := authenticate(c, secret, false)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

// OptionalJWT authenticates the request when a token is presented and lets
// anonymous requests through untouched. Browsers cannot set headers on a
// websocket upgrade, so the token may also arrive as the "token" query value.
func OptionalJWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := authenticate(c, secret, true)
		switch {
		case errors.Is(err, errTokenMissing):
			return c.Next()
		case err != nil:
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

func authenticate(c *fiber.Ctx, secret string, allowQuery bool) (string, error) {
	tokenString, err := bearerToken(c, allowQuery)
	if err != nil {
		return "", err
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	userID := extractUserIDFromClaims(claims)
	if userID == "" {
		return "", errors.New("token subject missing")
	}
	return userID, nil
}

func bearerToken(c *fiber.Ctx, allowQuery bool) (string, error) {
	authorization := c.Get("Authorization")
	if authorization == "" {
		if allowQuery {
			if token := strings.TrimSpace(c.Query("token")); token != "" {
				return token, nil
			}
		}
		return "", errTokenMissing
	}

	const bearer = "Bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization header")
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return "", errTokenInvalid
	}
	return tokenString, nil
}

// extractUserIDFromClaims accepts string and numeric subjects; chat user ids
// are opaque strings.
func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}

	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}
