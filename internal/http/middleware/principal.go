package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkSwift/internal/auth"
	"go.uber.org/zap"
)

const (
	PrincipalKey      = "principal"
	AccessTokenCookie = "accessToken"
)

// Authenticate resolves the caller from a bearer token or the access token cookie.
// Requests without a valid token continue anonymously.
func Authenticate(verifier *auth.Verifier, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies(AccessTokenCookie)
		}
		if token == "" || verifier == nil {
			return c.Next()
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			logger.Debug("ignoring invalid access token", zap.Error(err))
			return c.Next()
		}
		c.Locals(PrincipalKey, principal)
		return c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth(loginURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if CallerID(c) == "" {
			body := fiber.Map{
				"error":  "authentication required",
				"reason": "auth_required",
			}
			if loginURL != "" {
				body["redirect"] = loginURL
			}
			return c.Status(fiber.StatusUnauthorized).JSON(body)
		}
		return c.Next()
	}
}

// CallerID returns the authenticated user id, or "" for anonymous requests.
func CallerID(c *fiber.Ctx) string {
	if p, ok := c.Locals(PrincipalKey).(*auth.Principal); ok && p != nil {
		return p.UserID
	}
	return ""
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
