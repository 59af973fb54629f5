package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EMERGENCY_DOWNGRADE", "")
	t.Setenv("SPEED_MODEL", "")
	t.Setenv("ENVIRONMENT", "")

	cfg := Load()

	if cfg.SpeedModel != "gpt-4o-mini" {
		t.Errorf("Expected default speed model gpt-4o-mini, got %s", cfg.SpeedModel)
	}
	if cfg.PremiumModel == cfg.SpeedModel {
		t.Error("Expected premium and speed models to differ by default")
	}
	if cfg.EmergencyDowngrade {
		t.Error("Expected emergency downgrade to be off by default")
	}
	if cfg.IsProduction() {
		t.Error("Expected development environment by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EMERGENCY_DOWNGRADE", "true")
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("FREE_DAILY_AI_REQUESTS", "5")
	t.Setenv("DRAFT_MAX_AGE", "48h")
	t.Setenv("PROVIDER_RPS", "2.5")

	cfg := Load()

	if !cfg.EmergencyDowngrade {
		t.Error("Expected emergency downgrade to be on")
	}
	if !cfg.IsProduction() {
		t.Error("Expected production environment")
	}
	if cfg.FreeDailyAIRequests != 5 {
		t.Errorf("Expected 5 free requests, got %d", cfg.FreeDailyAIRequests)
	}
	if cfg.DraftMaxAge != 48*time.Hour {
		t.Errorf("Expected 48h draft max age, got %v", cfg.DraftMaxAge)
	}
	if cfg.ProviderRPS != 2.5 {
		t.Errorf("Expected provider rps 2.5, got %v", cfg.ProviderRPS)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("EMERGENCY_DOWNGRADE", "maybe")
	t.Setenv("FREE_DAILY_AI_REQUESTS", "lots")

	cfg := Load()

	if cfg.EmergencyDowngrade {
		t.Error("Expected invalid bool to fall back to false")
	}
	if cfg.FreeDailyAIRequests != 30 {
		t.Errorf("Expected invalid int to fall back to 30, got %d", cfg.FreeDailyAIRequests)
	}
}
