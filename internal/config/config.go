// Package config loads runtime configuration for chanalystd from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig holds PostgreSQL connection settings. DSN empty means "use the
// in-memory store" unless Backend forces postgres.
type DBConfig struct {
	Backend string // "", "memory", "auto", "postgres", "none"
	DSN     string
}

// RedisConfig holds Redis connection settings for the link resolver's
// attempt-cap counter. Addr empty means "use the in-memory counter".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds optional broker settings for the progress bus mirror.
type KafkaConfig struct {
	Brokers string // comma-separated, empty disables the mirror
	Topic   string
}

// S3Config holds object storage settings. Bucket empty means "use the
// in-memory object store".
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// LLMConfig selects and configures the structured-output LLM provider.
type LLMConfig struct {
	Provider string // "gemini" (default), "openai", "anthropic"
	APIKey   string
	Model    string
	Endpoint string // optional override, mainly for OpenAI-compatible gateways
}

// GoogleConfig configures the Gemini structured-output client.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// OpenAIConfig configures the OpenAI-compatible structured-output client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// AnthropicConfig configures the Anthropic structured-output client, which
// uses a forced single tool call in place of native JSON-schema responses.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// TelegramConfig holds Telegram API credentials, per spec.md §6.
type TelegramConfig struct {
	APIID            string
	APIHash          string
	BotToken         string
	EnableTelegramBot bool
}

// ObsConfig holds observability/tracing settings.
type ObsConfig struct {
	OTLP           string // OTLP HTTP endpoint; empty disables tracing
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Config is the fully resolved, typed application configuration.
type Config struct {
	Env string

	HTTPAddr string

	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	S3        S3Config
	LLM       LLMConfig
	Google    GoogleConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Telegram  TelegramConfig
	Obs       ObsConfig

	IngestConcurrency int
	LinkConcurrency   int
	LinkAttemptCap    int
	LinkAttemptWindow time.Duration

	SummarizerTimeout time.Duration
	RequestTimeout    time.Duration

	LogPath  string
	LogLevel string
}

// Load builds a Config from environment variables. Callers should run
// godotenv.Load before calling this so a local .env file is honored.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DB: DBConfig{
			Backend: getEnv("DB_BACKEND", "auto"),
			DSN:     getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_PROGRESS_TOPIC", "chanalystd.progress"),
		},
		S3: S3Config{
			Bucket:       getEnv("S3_BUCKET", ""),
			Region:       getEnv("S3_REGION", "us-east-1"),
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			AccessKey:    getEnv("S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
			Prefix:       getEnv("S3_PREFIX", "telegram-exports"),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "gemini"),
			APIKey:   getEnv("GEMINI_API_KEY", ""),
			Model:    getEnv("LLM_MODEL", "gemini-2.0-flash"),
			Endpoint: getEnv("LLM_ENDPOINT", ""),
		},
		Google: GoogleConfig{
			APIKey:  getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
			Model:   getEnv("GOOGLE_MODEL", "gemini-2.0-flash"),
			BaseURL: getEnv("GOOGLE_BASE_URL", ""),
			Timeout: getEnvInt("GOOGLE_TIMEOUT_SECONDS", 60),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Timeout: getEnvInt("OPENAI_TIMEOUT_SECONDS", 60),
		},
		Anthropic: AnthropicConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:   getEnv("ANTHROPIC_MODEL", ""),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			Timeout: getEnvInt("ANTHROPIC_TIMEOUT_SECONDS", 60),
		},
		Telegram: TelegramConfig{
			APIID:             getEnv("TELEGRAM_API_ID", ""),
			APIHash:           getEnv("TELEGRAM_API_HASH", ""),
			BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
			EnableTelegramBot: getEnvBool("ENABLE_TELEGRAM_BOT", false),
		},
		Obs: ObsConfig{
			OTLP:           getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "chanalystd"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnv("ENV", "development"),
		},
		IngestConcurrency: getEnvInt("INGEST_CONCURRENCY", 4),
		LinkConcurrency:   getEnvInt("LINK_CONCURRENCY", 8),
		LinkAttemptCap:    getEnvInt("LINK_ATTEMPT_CAP", 3),
		LinkAttemptWindow: getEnvDuration("LINK_ATTEMPT_WINDOW", 24*time.Hour),
		SummarizerTimeout: getEnvDuration("SUMMARIZER_TIMEOUT", 5*time.Minute),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 2*time.Minute),
		LogPath:           getEnv("LOG_PATH", "chanalystd.log"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if cfg.LLM.Provider == "gemini" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = getEnv("GOOGLE_API_KEY", "")
	}

	if cfg.DB.Backend != "" && cfg.DB.Backend != "memory" && cfg.DB.Backend != "auto" &&
		cfg.DB.Backend != "postgres" && cfg.DB.Backend != "pg" && cfg.DB.Backend != "none" && cfg.DB.Backend != "disabled" {
		return nil, fmt.Errorf("config: invalid DB_BACKEND %q", cfg.DB.Backend)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
