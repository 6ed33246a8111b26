package middlewares

import (
	"strings"

	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	// QueryToken token in query name
	QueryToken = "token"
	// QueryTokenLegacy older clients send the token as ?auth=
	QueryTokenLegacy = "auth"
	// CookieToken token in cookie name
	CookieToken = "auth_token"

	// TokenCredential raw credential, set c.Locals name
	TokenCredential = "credential"
	// TokenMemberID verified member id, set c.Locals name
	TokenMemberID = "MemberID"
)

// ExtractCredential read the bearer credential from query, Authorization header or cookie
func ExtractCredential(c *fiber.Ctx) string {
	if v := c.Query(QueryToken); v != "" {
		return v
	}
	if v := c.Query(QueryTokenLegacy); v != "" {
		return v
	}
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Cookies(CookieToken)
}

// CredentialMiddleware stash the raw credential for websocket handlers, which verify it themselves.
// A request without any credential is refused before the upgrade.
func CredentialMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		credential := ExtractCredential(c)
		if credential == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}
		c.Locals(TokenCredential, credential)
		return c.Next()
	}
}

// JWTMiddleware verify the credential and set the member id for REST handlers
func JWTMiddleware(v token.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		credential := ExtractCredential(c)
		if credential == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		memberID, err := v.Verify(c.UserContext(), credential)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenMemberID, memberID)
		return c.Next()
	}
}

// MemberID read the verified member id set by JWTMiddleware
func MemberID(c *fiber.Ctx) string {
	id, _ := c.Locals(TokenMemberID).(string)
	return id
}
