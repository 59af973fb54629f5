package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"daybook/pkg/auth"
)

// AuthConfig controls how requests are authenticated
type AuthConfig struct {
	// Environment is the deployment environment; auth may only be
	// bypassed outside production when no verifier is configured.
	Environment string
}

// LocalAuthMiddleware verifies bearer JWTs and stores the caller's
// identity in Locals (user_id, user_email, user_role)
func LocalAuthMiddleware(jwtAuth *auth.LocalJWTAuth, cfg AuthConfig) fiber.Handler {
	if jwtAuth == nil && cfg.Environment == "production" {
		// CRITICAL: Never allow auth bypass in production
		log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment. Authentication is required.")
	}

	return func(c *fiber.Ctx) error {
		if jwtAuth == nil {
			if cfg.Environment != "development" && cfg.Environment != "testing" && cfg.Environment != "" {
				return unavailable(c)
			}
			c.Locals("user_id", "dev-user")
			c.Locals("user_email", "dev@localhost")
			c.Locals("user_role", "user")
			return c.Next()
		}

		token, err := auth.ExtractToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": fiber.Map{"message": "Missing or invalid authorization token", "code": "unauthorized"},
			})
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("❌ Auth failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": fiber.Map{"message": "Invalid or expired token", "code": "unauthorized"},
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)
		return c.Next()
	}
}

func unavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{"message": "Authentication service unavailable", "code": "auth_unavailable"},
	})
}
