package preflight

import (
	"context"
	"fmt"
	"log"
	"time"

	"daybook/internal/config"
	"daybook/internal/jobs"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger is a backing store the checker can ping
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs pre-flight checks before the server starts accepting
// traffic
type Checker struct {
	cfg           *config.Config
	mongo         Pinger
	redis         Pinger
	templateCount int
	timeout       time.Duration
}

// NewChecker creates a new preflight checker. redis may be nil.
func NewChecker(cfg *config.Config, mongo, redis Pinger, templateCount int) *Checker {
	return &Checker{
		cfg:           cfg,
		mongo:         mongo,
		redis:         redis,
		templateCount: templateCount,
		timeout:       5 * time.Second,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkPing(ctx, "MongoDB", c.mongo, true),
		c.checkPing(ctx, "Redis", c.redis, c.cfg.IsProduction()),
		c.checkSecrets(),
		c.checkProvider(),
		c.checkSchedules(),
		c.checkTemplates(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkPing pings a store. A missing optional store is a warning.
func (c *Checker) checkPing(ctx context.Context, name string, p Pinger, required bool) CheckResult {
	failStatus := "warning"
	if required {
		failStatus = "fail"
	}
	if p == nil {
		return CheckResult{Name: name, Status: failStatus, Message: "Not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return CheckResult{Name: name, Status: failStatus, Message: "Cannot connect", Error: err}
	}
	return CheckResult{Name: name, Status: "pass", Message: "Connection successful"}
}

// checkSecrets verifies secrets that production cannot run without
func (c *Checker) checkSecrets() CheckResult {
	var missing []string
	if c.cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.cfg.EncryptionMasterKey == "" {
		missing = append(missing, "ENCRYPTION_MASTER_KEY")
	}
	if c.cfg.DodoWebhookSecret == "" {
		missing = append(missing, "DODO_WEBHOOK_SECRET")
	}

	if len(missing) == 0 {
		return CheckResult{Name: "Secrets", Status: "pass", Message: "All secrets configured"}
	}
	status := "warning"
	if c.cfg.IsProduction() {
		status = "fail"
	}
	return CheckResult{
		Name:    "Secrets",
		Status:  status,
		Message: fmt.Sprintf("Missing environment variables: %v", missing),
	}
}

func (c *Checker) checkProvider() CheckResult {
	if c.cfg.OpenAIAPIKey == "" {
		return CheckResult{Name: "AI Provider", Status: "warning", Message: "OPENAI_API_KEY not set, AI features will fail"}
	}
	if c.cfg.EmergencyDowngrade {
		return CheckResult{Name: "AI Provider", Status: "warning", Message: "Emergency downgrade is active"}
	}
	return CheckResult{
		Name:    "AI Provider",
		Status:  "pass",
		Message: fmt.Sprintf("%s (speed: %s, premium: %s)", c.cfg.OpenAIBaseURL, c.cfg.SpeedModel, c.cfg.PremiumModel),
	}
}

func (c *Checker) checkSchedules() CheckResult {
	for _, expr := range []string{c.cfg.SubscriptionExpiryCron, c.cfg.DraftCleanupCron} {
		if err := jobs.ValidateCron(expr); err != nil {
			return CheckResult{Name: "Job Schedules", Status: "fail", Message: "Invalid cron expression", Error: err}
		}
	}
	return CheckResult{Name: "Job Schedules", Status: "pass", Message: "Cron expressions valid"}
}

func (c *Checker) checkTemplates() CheckResult {
	if c.templateCount == 0 {
		return CheckResult{Name: "Compose Templates", Status: "fail", Message: "No compose templates loaded"}
	}
	return CheckResult{
		Name:    "Compose Templates",
		Status:  "pass",
		Message: fmt.Sprintf("%d templates loaded", c.templateCount),
	}
}
