package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const (
	konnectTestBaseURL = "https://api.preprod.konnect.network/api/v2"
	konnectLiveBaseURL = "https://api.konnect.network/api/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string
	MigrateOnStart     bool
	BodyLimitBytes     int64

	KonnectMode            string
	KonnectBaseURL         string
	KonnectAuthMode        string
	KonnectAPIKey          string
	KonnectAPISecret       string
	KonnectWalletID        string
	KonnectWebhookURL      string
	KonnectAcceptedMethods []string
	KonnectSendEmail       bool
	KonnectLifespanMinutes int
	KonnectTheme           string
	KonnectTimeout         time.Duration

	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	WebhookRateLimitMax    int
	WebhookRateLimitWindow time.Duration
	ReturnRateLimitMax     int
	ReturnRateLimitWindow  time.Duration

	AsynqQueue        string
	AsynqMaxRetry     int
	WorkerConcurrency int
	IdempotencyTTL    time.Duration
	KafkaBrokers      []string
	KafkaTopic        string
	AdminJWTSecret    string
	AdminJWTIssuer    string
	AdminJWTAudience  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 64*1024)),

		KonnectMode:            strings.ToLower(valueOrDefault(k.String("KONNECT_MODE"), "test")),
		KonnectBaseURL:         strings.TrimRight(strings.TrimSpace(k.String("KONNECT_BASE_URL")), "/"),
		KonnectAuthMode:        strings.ToLower(valueOrDefault(k.String("KONNECT_AUTH_MODE"), "api_key")),
		KonnectAPIKey:          strings.TrimSpace(k.String("KONNECT_API_KEY")),
		KonnectAPISecret:       strings.TrimSpace(k.String("KONNECT_API_SECRET")),
		KonnectWalletID:        strings.TrimSpace(k.String("KONNECT_WALLET_ID")),
		KonnectWebhookURL:      strings.TrimSpace(k.String("KONNECT_WEBHOOK_URL")),
		KonnectAcceptedMethods: splitAndTrim(valueOrDefault(k.String("KONNECT_ACCEPTED_METHODS"), "wallet,bank_card,e-DINAR")),
		KonnectSendEmail:       parseBool(k.String("KONNECT_SEND_EMAIL")),
		KonnectLifespanMinutes: parseInt(k.String("KONNECT_LIFESPAN_MINUTES"), 10),
		KonnectTheme:           strings.ToLower(valueOrDefault(k.String("KONNECT_THEME"), "light")),
		KonnectTimeout:         parseDuration(k.String("KONNECT_TIMEOUT"), "10s"),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_KONNECT_MIN_REQUESTS"), 10),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_KONNECT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_KONNECT_OPEN_FOR"), "30s"),

		WebhookRateLimitMax:    parseInt(k.String("WEBHOOK_RATE_LIMIT_MAX"), 120),
		WebhookRateLimitWindow: parseDuration(k.String("WEBHOOK_RATE_LIMIT_WINDOW"), "1m"),
		ReturnRateLimitMax:     parseInt(k.String("RETURN_RATE_LIMIT_MAX"), 30),
		ReturnRateLimitWindow:  parseDuration(k.String("RETURN_RATE_LIMIT_WINDOW"), "1m"),

		AsynqQueue:        valueOrDefault(k.String("ASYNQ_QUEUE"), "settlement"),
		AsynqMaxRetry:     parseInt(k.String("ASYNQ_MAX_RETRY"), 10),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		KafkaBrokers:      splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:        valueOrDefault(k.String("KAFKA_TOPIC"), "payment.completed"),
		AdminJWTSecret:    k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:    strings.TrimSpace(k.String("ADMIN_JWT_ISSUER")),
		AdminJWTAudience:  strings.TrimSpace(k.String("ADMIN_JWT_AUDIENCE")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.KonnectAPIKey == "" {
		return nil, errors.New("KONNECT_API_KEY is required")
	}
	if cfg.KonnectWalletID == "" {
		return nil, errors.New("KONNECT_WALLET_ID is required")
	}
	switch cfg.KonnectAuthMode {
	case "api_key":
	case "basic":
		if cfg.KonnectAPISecret == "" {
			return nil, errors.New("KONNECT_API_SECRET is required when KONNECT_AUTH_MODE=basic")
		}
	default:
		return nil, fmt.Errorf("unsupported KONNECT_AUTH_MODE %q", cfg.KonnectAuthMode)
	}
	if cfg.KonnectMode != "test" && cfg.KonnectMode != "live" {
		return nil, fmt.Errorf("unsupported KONNECT_MODE %q", cfg.KonnectMode)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// KonnectAPIBaseURL resolves the provider API root, honouring an explicit override before the mode default.
func (c *Config) KonnectAPIBaseURL() string {
	if c.KonnectBaseURL != "" {
		return c.KonnectBaseURL
	}
	if c.KonnectMode == "live" {
		return konnectLiveBaseURL
	}
	return konnectTestBaseURL
}

// KonnectNotifyURL is the webhook address registered with Konnect for each payment. An explicit
// KONNECT_WEBHOOK_URL wins; otherwise it is derived from PUBLIC_BASE_URL.
func (c *Config) KonnectNotifyURL() string {
	if c.KonnectWebhookURL != "" {
		return c.KonnectWebhookURL
	}
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/api/v1/webhooks/konnect"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
