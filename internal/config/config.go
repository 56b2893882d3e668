// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Persistence settings.
	DBPath    string // SQLite database holding run state and artifact versions.
	ExportDir string // Root directory for exported confirmed artifacts.

	// Generation collaborator settings.
	Provider      string // "openai" or "ollama".
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	OllamaURL     string
	Temperature   float64
	MaxTokens     int

	// Generation policy.
	GenerationTimeout time.Duration // Per-call timeout for the collaborator.
	MaxAttempts       int           // Retry bound per call / per partition.
	BatchConcurrency  int           // Bounded worker pool for partition fan-out.
	MaxCasesPerStory  int           // Hard cap on generated cases per partition.

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		DBPath:            envStr("CASEFORGE_DB_PATH", defaultDBPath()),
		ExportDir:         envStr("CASEFORGE_EXPORT_DIR", "output"),
		Provider:          envStr("CASEFORGE_PROVIDER", "openai"),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     envStr("OPENAI_BASE_URL", ""),
		Model:             envStr("CASEFORGE_MODEL", "gpt-4o-mini"),
		OllamaURL:         envStr("OLLAMA_URL", "http://localhost:11434"),
		Temperature:       envFloat("CASEFORGE_TEMPERATURE", 0.2),
		MaxTokens:         envInt("CASEFORGE_MAX_TOKENS", 2048),
		GenerationTimeout: envDuration("CASEFORGE_GENERATION_TIMEOUT", 90*time.Second),
		MaxAttempts:       envInt("CASEFORGE_MAX_ATTEMPTS", 3),
		BatchConcurrency:  envInt("CASEFORGE_BATCH_CONCURRENCY", 4),
		MaxCasesPerStory:  envInt("CASEFORGE_MAX_CASES_PER_STORY", 6),
		LogLevel:          envStr("CASEFORGE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and bounded.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: CASEFORGE_DB_PATH is required")
	}
	switch c.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("config: CASEFORGE_PROVIDER must be \"openai\" or \"ollama\", got %q", c.Provider)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: CASEFORGE_MAX_ATTEMPTS must be at least 1")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("config: CASEFORGE_BATCH_CONCURRENCY must be at least 1")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("config: CASEFORGE_GENERATION_TIMEOUT must be positive")
	}
	if c.MaxCasesPerStory < 1 {
		return fmt.Errorf("config: CASEFORGE_MAX_CASES_PER_STORY must be at least 1")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "caseforge.db"
	}
	return filepath.Join(home, ".caseforge", "caseforge.db")
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
