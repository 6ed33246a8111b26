package middlewares

import (
	"io"
	"net/http/httptest"
	"testing"

	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(v token.Verifier) *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTMiddleware(v), func(c *fiber.Ctx) error {
		return c.SendString(MemberID(c))
	})
	app.Get("/raw", CredentialMiddleware(), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(TokenCredential).(string))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	v := token.NewJWTVerifier([]byte("k"), "")
	app := newApp(v)
	tok, err := v.Issue("user-a", "member")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "user-a", string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/me?token="+tok, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/me?token=bad", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCredentialMiddleware(t *testing.T) {
	app := newApp(token.NewJWTVerifier([]byte("k"), ""))

	resp, err := app.Test(httptest.NewRequest("GET", "/raw?auth=abc", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "abc", string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/raw", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
