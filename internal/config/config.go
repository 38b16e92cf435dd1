// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	MaxSteps       int
	StartURL       string
	Headless       bool

	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	OpenAIMaxTokens int

	HistoryEnabled bool
	HistoryDBPath  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		SessionTimeout: getEnvDuration("SESSION_TTL", 30*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		MaxSteps:       getEnvInt("MAX_STEPS", 150),
		StartURL:       getEnv("START_URL", "https://www.duckduckgo.com"),
		Headless:       getEnvBool("HEADLESS", true),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		OpenAIMaxTokens: getEnvInt("OPENAI_MAX_TOKENS", 1024),

		HistoryEnabled: getEnvBool("HISTORY_ENABLED", true),
		HistoryDBPath:  getEnv("HISTORY_DB_PATH", "./data/history.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAIModel == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("MAX_STEPS must be > 0")
	}
	if c.StartURL == "" {
		return fmt.Errorf("START_URL cannot be empty")
	}
	if c.HistoryEnabled && c.HistoryDBPath == "" {
		return fmt.Errorf("HISTORY_DB_PATH cannot be empty when history is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
