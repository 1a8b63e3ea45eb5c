package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/litlabs-admin/daddyjohn/internal/chat"
	"github.com/litlabs-admin/daddyjohn/internal/completion"
)

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "your-secret-key-change-this-in-production"

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	LogLevel  string
	LogFormat string

	ChatMode chat.Mode

	JWTSecret     string
	JWTExpiration time.Duration

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	SiteURL           string

	CompletionTimeout    time.Duration
	SummaryTimeout       time.Duration
	CompletionMaxRetries int
	CompletionRetryDelay time.Duration

	PersonaPath    string
	DatabaseURL    string
	SQLitePath     string
	SummaryWorkers int
}

// UsesDefaultSecret reports whether tokens are signed with the development secret.
func (c Config) UsesDefaultSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":5000"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "daddyjohn"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		JWTSecret:            envOrDefault("JWT_SECRET_KEY", DefaultJWTSecret),
		OpenRouterAPIKey:     stringsTrimSpace("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:    envOrDefault("OPENROUTER_BASE_URL", completion.DefaultBaseURL),
		OpenRouterModel:      envOrDefault("OPENROUTER_MODEL", completion.DefaultModel),
		SiteURL:              envOrDefault("VERCEL_URL", completion.DefaultSiteURL),
		PersonaPath:          envOrDefault("PERSONA_PATH", "persona.txt"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		SQLitePath:           stringsTrimSpace("SQLITE_PATH"),
		ShutdownTimeout:      15 * time.Second,
		JWTExpiration:        24 * time.Hour,
		CompletionTimeout:    completion.ChatTimeout,
		SummaryTimeout:       completion.SummaryTimeout,
		CompletionMaxRetries: completion.DefaultMaxRetries,
		CompletionRetryDelay: completion.DefaultRetryDelay,
		SummaryWorkers:       4,
	}
	if port := stringsTrimSpace("PORT"); port != "" {
		cfg.BindAddr = ":" + port
	}

	var err error
	cfg.ChatMode, err = chat.ParseMode(os.Getenv("CHAT_MODE"))
	if err != nil {
		return Config{}, fmt.Errorf("CHAT_MODE: %w", err)
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JWTExpiration, err = durationFromEnv("JWT_EXPIRATION", cfg.JWTExpiration)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryTimeout, err = durationFromEnv("SUMMARY_TIMEOUT", cfg.SummaryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionRetryDelay, err = durationFromEnv("COMPLETION_RETRY_DELAY", cfg.CompletionRetryDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxRetries, err = intFromEnv("COMPLETION_MAX_RETRIES", cfg.CompletionMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryWorkers, err = intFromEnv("SUMMARY_WORKERS", cfg.SummaryWorkers)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY must not be blank")
	}
	if cfg.JWTExpiration < time.Minute {
		return Config{}, fmt.Errorf("JWT_EXPIRATION must be at least 1m")
	}
	if cfg.CompletionTimeout <= 0 || cfg.SummaryTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT and SUMMARY_TIMEOUT must be positive")
	}
	if cfg.CompletionRetryDelay <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_RETRY_DELAY must be positive")
	}
	if cfg.CompletionMaxRetries <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_RETRIES must be positive")
	}
	if cfg.SummaryWorkers <= 0 {
		return Config{}, fmt.Errorf("SUMMARY_WORKERS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
