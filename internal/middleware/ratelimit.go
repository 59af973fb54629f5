package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// AI endpoint limits (per user ID). These are burst limits; the daily
	// allowance is enforced by the usage limiter.
	AIMax        int
	AIExpiration time.Duration

	// Webhook limits (per IP)
	WebhookMax        int
	WebhookExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// AI: 20/min, each call is a paid provider request
		AIMax:        20,
		AIExpiration: 1 * time.Minute,

		WebhookMax:        300,
		WebhookExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig(environment string) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_AI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.AIMax = n
		}
	}

	// Development mode: more lenient limits
	if environment == "development" {
		config.GlobalAPIMax = 1000
		config.AIMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

func limitReached(scope string, retryAfter time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		log.Printf("🚫 [RATE-LIMIT] %s limit reached for %s on %s", scope, c.IP(), c.Path())
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"message":     "Too many requests. Please slow down.",
				"code":        "rate_limited",
				"retry_after": int(retryAfter.Seconds()),
			},
		})
	}
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: limitReached("Global", config.GlobalAPIExpiration),
	})
}

// AIRateLimiter limits AI endpoints per authenticated user, falling back
// to IP. Must run after the auth middleware.
func AIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.AIMax,
		Expiration: config.AIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				return "ai:user:" + userID
			}
			return "ai:ip:" + c.IP()
		},
		LimitReached: limitReached("AI", config.AIExpiration),
	})
}

// WebhookRateLimiter limits the unauthenticated webhook endpoint per IP
func WebhookRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.WebhookMax,
		Expiration: config.WebhookExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.IP()
		},
		LimitReached: limitReached("Webhook", config.WebhookExpiration),
	})
}
