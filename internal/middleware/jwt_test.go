package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/goalchat/internal/middleware"
)

const testSecret = "chat-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func echoUserApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(handler)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(middleware.UserID(c))
	})
	return app
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestJWTProtectedBindsStringSubject(t *testing.T) {
	app := echoUserApp(middleware.JWTProtected(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-7f3a",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))

	resp := perform(t, app, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "user-7f3a", readBody(t, resp))
}

func TestJWTProtectedNormalizesNumericSubject(t *testing.T) {
	app := echoUserApp(middleware.JWTProtected(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"user_id": 42}))

	resp := perform(t, app, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "42", readBody(t, resp))
}

func TestJWTProtectedRejectsMissingAndForgedTokens(t *testing.T) {
	app := echoUserApp(middleware.JWTProtected(testSecret))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", jwt.MapClaims{"sub": "alice"}))
	resp = perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.MapClaims{"role": "member"}))
	resp = perform(t, app, req)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestOptionalJWTAllowsAnonymousAndQueryTokens(t *testing.T) {
	app := echoUserApp(middleware.OptionalJWT(testSecret))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Empty(t, readBody(t, resp))

	token := signToken(t, testSecret, jwt.MapClaims{"sub": "bob"})
	resp = perform(t, app, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "bob", readBody(t, resp))

	resp = perform(t, app, httptest.NewRequest(http.MethodGet, "/?token=garbage", nil))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
