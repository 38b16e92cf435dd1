package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("Expected default session TTL 30m, got %v", cfg.SessionTimeout)
	}
	if cfg.MaxSteps != 150 {
		t.Errorf("Expected default max steps 150, got %d", cfg.MaxSteps)
	}
	if !cfg.Headless {
		t.Error("Expected headless by default")
	}
	if !cfg.HistoryEnabled {
		t.Error("Expected history enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("MAX_STEPS", "25")
	t.Setenv("HEADLESS", "false")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Port)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("Expected session TTL 10m, got %v", cfg.SessionTimeout)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("Expected sweep interval 30s, got %v", cfg.SweepInterval)
	}
	if cfg.MaxSteps != 25 {
		t.Errorf("Expected max steps 25, got %d", cfg.MaxSteps)
	}
	if cfg.Headless {
		t.Error("Expected headless disabled")
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("Expected model override, got %q", cfg.OpenAIModel)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("Expected an error when OPENAI_API_KEY is missing")
	}
}

func TestGetEnvBoolInvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_FLAG", "maybe")

	if got := getEnvBool("SOME_FLAG", true); !got {
		t.Error("Expected fallback for unparsable value")
	}
}
