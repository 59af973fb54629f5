package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	MongoURI    string
	RedisURL    string
	JWTSecret   string

	AllowedOrigins string

	// Language model provider (OpenAI-compatible chat completions API)
	OpenAIBaseURL      string
	OpenAIAPIKey       string
	SpeedModel         string
	PremiumModel       string
	EmergencyDowngrade bool    // Force the cheapest model for non-premium users
	ProviderRPS        float64 // Outbound request pacing toward the provider
	ProviderBurst      int

	// Analytics collector for usage events
	AnalyticsURL   string
	AnalyticsToken string

	// DodoPayments configuration
	DodoAPIKey        string
	DodoWebhookSecret string
	DodoEnvironment   string // "live" or "test"
	DodoProductID     string // Premium monthly product
	AppBaseURL        string

	// Encryption of journal responses at rest (hex, 32 bytes)
	EncryptionMasterKey string

	// Compose templates override directory (hot reloaded)
	TemplatesDir string

	// Free tier limits
	FreeDailyAIRequests int64

	// Background jobs
	SubscriptionExpiryCron string
	DraftCleanupCron       string
	DraftMaxAge            time.Duration
	SubscriptionGrace      time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: strings.ToLower(getEnv("ENVIRONMENT", "development")),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017/daybook"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		SpeedModel:         getEnv("SPEED_MODEL", "gpt-4o-mini"),
		PremiumModel:       getEnv("PREMIUM_MODEL", "gpt-4o"),
		EmergencyDowngrade: getBoolEnv("EMERGENCY_DOWNGRADE", false),
		ProviderRPS:        getFloatEnv("PROVIDER_RPS", 20),
		ProviderBurst:      getIntEnv("PROVIDER_BURST", 40),

		AnalyticsURL:   getEnv("ANALYTICS_URL", ""),
		AnalyticsToken: getEnv("ANALYTICS_TOKEN", ""),

		DodoAPIKey:        getEnv("DODO_API_KEY", ""),
		DodoWebhookSecret: getEnv("DODO_WEBHOOK_SECRET", ""),
		DodoEnvironment:   getEnv("DODO_ENVIRONMENT", "test"),
		DodoProductID:     getEnv("DODO_PRODUCT_ID", ""),
		AppBaseURL:        getEnv("APP_BASE_URL", "http://localhost:3000"),

		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),

		TemplatesDir: getEnv("TEMPLATES_DIR", ""),

		FreeDailyAIRequests: int64(getIntEnv("FREE_DAILY_AI_REQUESTS", 30)),

		SubscriptionExpiryCron: getEnv("SUBSCRIPTION_EXPIRY_CRON", "0 * * * *"),
		DraftCleanupCron:       getEnv("DRAFT_CLEANUP_CRON", "30 3 * * *"),
		DraftMaxAge:            getDurationEnv("DRAFT_MAX_AGE", 30*24*time.Hour),
		SubscriptionGrace:      getDurationEnv("SUBSCRIPTION_GRACE", 72*time.Hour),
	}
}

// IsProduction reports whether ENVIRONMENT is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
