package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/petec4244/Ai3-Orchestrator/core/db"
)

// Config holds all application configuration, assembled from environment
// variables with sensible defaults for local development.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP server port
	Port string

	// DB holds database configuration for the journal's secondary index.
	// Zero-value DSN means the index is disabled and the journal runs
	// filesystem-only.
	DB db.Config

	// RedisAddr, if set, enables the Redis-backed telemetry window and
	// the crash-recovery heartbeat registry. Empty means in-memory only.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AnthropicAPIKey string
	OpenAIAPIKey    string
	XAIAPIKey       string

	PlannerModel       string
	PlannerMaxTokens   int
	PlannerTemperature float64

	MaxConcurrency            int
	MaxConcurrencyPerProvider int
	VerifyEnabled             bool
	RepairLimit               int

	JournalDir string

	OTel OTelConfig
}

// OTelConfig controls whether the OpenTelemetry SDK is wired up at all;
// most local/dev runs leave it disabled and log only through the local
// slog handlers (text in development, JSON otherwise).
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (o OTelConfig) Enabled() bool {
	return o.Endpoint != ""
}

// Load loads configuration from environment variables.
func Load() Config {
	return Config{
		Env:  getEnv("AI3_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		RedisAddr:     getEnv("AI3_REDIS_ADDR", ""),
		RedisPassword: getEnv("AI3_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("AI3_REDIS_DB", 0),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		XAIAPIKey:       getEnv("XAI_API_KEY", ""),

		PlannerModel:       getEnv("AI3_PLANNER_MODEL", "gpt-4o-mini"),
		PlannerMaxTokens:   getEnvInt("AI3_PLANNER_MAXTOK", 2048),
		PlannerTemperature: getEnvFloat("AI3_PLANNER_TEMPERATURE", 0.0),

		MaxConcurrency:            getEnvInt("AI3_MAX_CONCURRENCY", 5),
		MaxConcurrencyPerProvider: getEnvInt("AI3_MAX_CONCURRENCY_PER_PROVIDER", 3),
		VerifyEnabled:             getEnv("AI3_VERIFY", "on") != "off",
		RepairLimit:               getEnvInt("AI3_REPAIR_LIMIT", 1),

		JournalDir: getEnv("AI3_JOURNAL_DIR", "."),

		OTel: OTelConfig{
			Endpoint:       getEnv("AI3_OTEL_ENDPOINT", ""),
			Headers:        getEnv("AI3_OTEL_HEADERS", ""),
			ServiceName:    getEnv("AI3_OTEL_SERVICE_NAME", "ai3-orchestrator"),
			ServiceVersion: getEnv("AI3_OTEL_SERVICE_VERSION", "dev"),
		},
	}
}

// Validate reports a configuration error when no provider credential is
// present — the run cannot route to anything without at least one.
func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" && c.XAIAPIKey == "" {
		return fmt.Errorf("configuration: at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, XAI_API_KEY must be set")
	}
	return nil
}

// buildDSN constructs the database connection string from individual env vars.
func buildDSN() string {
	host, ok := os.LookupEnv("DATABASE_HOST")
	if !ok {
		return ""
	}
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "ai3")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
