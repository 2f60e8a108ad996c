package config

import (
	"encoding/json"
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

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv              string
	Port                string
	RedisURL            string
	PaymentBaseURL      string
	PartnerAPIKeys      map[string]string
	CORSAllowedOrigins  []string
	ProcessingFeeCents  int64
	IdempotencyTTL      time.Duration
	UpstreamTimeout     time.Duration
	UpstreamAttempts    int
	UseProxy            bool
	ProxyURL            string
	GooglePayMerchantID string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	partnerKeys, err := parsePartnerKeys(k.String("PARTNER_API_KEYS"))
	if err != nil {
		return nil, fmt.Errorf("parse PARTNER_API_KEYS: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:            k.String("REDIS_URL"),
		PaymentBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PAYMENT_BASE_URL")), "/"),
		PartnerAPIKeys:      partnerKeys,
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		ProcessingFeeCents:  parseInt64(k.String("PROCESSING_FEE_CENTS"), 100),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		UpstreamTimeout:     parseDuration(k.String("UPSTREAM_TIMEOUT"), "10s"),
		UpstreamAttempts:    int(parseInt64(k.String("UPSTREAM_MAX_ATTEMPTS"), 3)),
		UseProxy:            parseBool(k.String("USE_PROXY")),
		ProxyURL:            strings.TrimSpace(k.String("PROXY_URL")),
		GooglePayMerchantID: strings.TrimSpace(k.String("GOOGLE_PAY_MERCHANT_ID")),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PaymentBaseURL == "" {
		return nil, errors.New("PAYMENT_BASE_URL is required")
	}
	if len(cfg.PartnerAPIKeys) == 0 {
		return nil, errors.New("PARTNER_API_KEYS is required")
	}
	if cfg.UseProxy && cfg.ProxyURL == "" {
		return nil, errors.New("PROXY_URL is required when USE_PROXY is set")
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

func parsePartnerKeys(raw string) (map[string]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	keys := map[string]string{}
	if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
		return nil, err
	}
	for partner, key := range keys {
		if strings.TrimSpace(partner) == "" || strings.TrimSpace(key) == "" {
			delete(keys, partner)
		}
	}
	return keys, nil
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
		return value
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

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
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
