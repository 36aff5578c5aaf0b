package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds conversation-console configuration loaded from environment.
type Config struct {
	Env          string
	HTTPAddr     string
	BaseURL      *url.URL
	FallbackPort string

	ViewerName    string
	ViewerEmail   string
	SessionCookie string
	CSRFToken     string
	ConsoleToken  string

	ReadDebounce   time.Duration
	HTTPTimeout    time.Duration
	MaxUploadBytes int64

	RevealStore string
	RedisURL    string
	DBDSN       string

	AMQPURL         string
	AMQPExchange    string
	AuditRoutingKey string
	OTLPEndpoint    string
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv parses the environment into a Config.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		FallbackPort:    getEnv("FALLBACK_PORT", "8000"),
		ViewerName:      strings.TrimSpace(os.Getenv("VIEWER_NAME")),
		ViewerEmail:     strings.TrimSpace(os.Getenv("VIEWER_EMAIL")),
		SessionCookie:   strings.TrimSpace(os.Getenv("SESSION_COOKIE")),
		CSRFToken:       strings.TrimSpace(os.Getenv("CSRF_TOKEN")),
		ConsoleToken:    strings.TrimSpace(os.Getenv("CONSOLE_TOKEN")),
		RevealStore:     strings.ToLower(getEnv("REVEAL_STORE", "memory")),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DBDSN:           strings.TrimSpace(os.Getenv("DB_DSN")),
		AMQPURL:         strings.TrimSpace(os.Getenv("AMQP_URL")),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "crm.events"),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.conversation"),
		OTLPEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	base, err := url.Parse(getEnv("CONVERSATION_BASE_URL", "http://localhost:8001"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CONVERSATION_BASE_URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return Config{}, fmt.Errorf("CONVERSATION_BASE_URL must be an http(s) origin, got %q", base.String())
	}
	cfg.BaseURL = base

	if cfg.ReadDebounce, err = parseDuration("READ_DEBOUNCE", "1s"); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = parseDuration("HTTP_TIMEOUT", "15s"); err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = parseInt64WithDefault(strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")), 10<<20)

	switch cfg.RevealStore {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("unsupported REVEAL_STORE: %s", cfg.RevealStore)
	}
	return cfg, nil
}

// Development reports whether the human-readable log handler should be used.
func (c Config) Development() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return dur, nil
}

func parseInt64WithDefault(raw string, def int64) int64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
