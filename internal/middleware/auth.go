package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/petmerch/api/internal/auth"
	"github.com/petmerch/api/pkg/response"
)

// AuthMiddleware handles bearer token authentication
type AuthMiddleware struct {
	jwtSecret string
	required  bool
}

// NewAuthMiddleware creates the auth middleware. When required is false requests
// without an Authorization header pass through as guests.
func NewAuthMiddleware(jwtSecret string, required bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		required:  required,
	}
}

// Authenticate validates the JWT from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			if m.required {
				return response.Unauthorized(c, "Missing authorization header")
			}
			return c.Next()
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if m.jwtSecret == "" {
			if m.required {
				return response.Unauthorized(c, "Authentication not configured")
			}
			return c.Next()
		}

		claims, err := auth.ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
