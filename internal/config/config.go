// Package config holds application settings (in-memory representation).
// Values come from the environment with an optional .env fallback loaded
// in main.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service-level settings. Per-deal negotiation stances are a
// domain object and live with the deal, not here.
type Config struct {
	// LLM settings (OpenAI-compatible endpoint).
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    time.Duration
	LLMMaxTokens  int
	Temperature   float64

	// Vendor message intake.
	MaxVendorMessageBytes int

	// SMTP notifier settings.
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	FromEmail    string
	EmailEnabled bool

	// Suggestion cache bounds.
	SuggestionTTL        time.Duration
	SuggestionCacheLimit int
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		OpenAIModel:           "gpt-4o-mini",
		LLMTimeout:            8 * time.Second,
		LLMMaxTokens:          600,
		Temperature:           0.4,
		MaxVendorMessageBytes: 8 * 1024,
		SMTPPort:              587,
		SuggestionTTL:         5 * time.Minute,
		SuggestionCacheLimit:  100,
	}
}

// FromEnv returns the default config overlaid with environment variables.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.SMTPServer = v
		cfg.EmailEnabled = true
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTPPass = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.FromEmail = v
	}
	return cfg
}
