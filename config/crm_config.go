package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogPretty   bool

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Seals stored OAuth tokens; falls back to JWTSecret
	EncryptionKey string

	// Organisation
	InternalDomains []string

	// Webhook
	WebhookSecret   string
	WebhookTimeout  time.Duration
	WebhookActorID  string // user id recorded as created_by for pushed messages
	IdempotencyTTL  time.Duration
	SyncLockTTL     time.Duration
	SyncHistoryDays int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string
	MicrosoftTenantID     string
	GraphBaseURL          string

	// Ingestion
	SyncConcurrency  int
	SyncDefaultDays  int
	SyncDefaultLimit int // items per category when a sync request names none
	FetchMaxLimit    int
	FetchMaxRetries  int
	FetchRetryBaseMS int
	FetchTimeout     time.Duration
	ConnectURL       string // where users grant mailbox scopes

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvBool("LOG_PRETTY", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "crm"),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		InternalDomains: normalizeDomains(getEnvSlice("INTERNAL_DOMAINS", nil)),

		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeout:  time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SEC", 20)) * time.Second,
		WebhookActorID:  getEnv("WEBHOOK_ACTOR_ID", ""),
		IdempotencyTTL:  time.Duration(getEnvInt("WEBHOOK_IDEMPOTENCY_TTL_SEC", 300)) * time.Second,
		SyncLockTTL:     time.Duration(getEnvInt("SYNC_LOCK_TTL_SEC", 600)) * time.Second,
		SyncHistoryDays: getEnvInt("SYNC_HISTORY_DAYS", 90),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftRedirectURL:  getEnv("MICROSOFT_REDIRECT_URL", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),
		GraphBaseURL:          getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),

		SyncConcurrency:  getEnvInt("SYNC_CONCURRENCY", 4),
		SyncDefaultDays:  getEnvInt("SYNC_DEFAULT_DAYS", 30),
		SyncDefaultLimit: getEnvInt("SYNC_DEFAULT_LIMIT", 50),
		FetchMaxLimit:    getEnvInt("FETCH_MAX_LIMIT", 500),
		FetchMaxRetries:  getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchRetryBaseMS: getEnvInt("FETCH_RETRY_BASE_MS", 250),
		FetchTimeout:     time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 30)) * time.Second,
		ConnectURL:       getEnv("CONNECT_URL", "/settings/connections"),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = cfg.JWTSecret
	}
	return cfg, nil
}

// Validate checks the settings the API cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if len(c.InternalDomains) == 0 {
		missing = append(missing, "INTERNAL_DOMAINS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be >= 1, got %d", c.SyncConcurrency)
	}
	if c.FetchMaxLimit > 0 && c.SyncDefaultLimit > c.FetchMaxLimit {
		return fmt.Errorf("SYNC_DEFAULT_LIMIT (%d) exceeds FETCH_MAX_LIMIT (%d)", c.SyncDefaultLimit, c.FetchMaxLimit)
	}
	if c.WebhookActorID != "" {
		if _, err := uuid.Parse(c.WebhookActorID); err != nil {
			return fmt.Errorf("WEBHOOK_ACTOR_ID: %w", err)
		}
	}
	return nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "@")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
