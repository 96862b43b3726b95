package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Rabbit    RabbitConfig
	Processor ProcessorConfig
	Auth      AuthConfig
	Embedding EmbeddingConfig
	Retry     RetryConfig
}

type ServerConfig struct {
	Host string
	Port int
	// PublicBaseURL is what the external service can reach us at; callback
	// URLs are built from it.
	PublicBaseURL  string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitConfig struct {
	URL      string
	Exchange string
}

type ProcessorConfig struct {
	// WebhookURL is the external processing service's intake endpoint.
	WebhookURL string
	Timeout    time.Duration
	// ChatTransport selects how chat requests reach the processor:
	// "webhook" or "queue".
	ChatTransport string
}

type AuthConfig struct {
	JWTSecret string
	// TokenCache selects the callback-token cache backend: "redis" or
	// "memory". Chosen once at startup, never per request.
	TokenCache string
	TokenTTL   time.Duration
}

type EmbeddingConfig struct {
	Dimension int
}

type RetryConfig struct {
	ScanInterval time.Duration
	MaxAttempts  int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	dimension, err := getEnvInt("EMBEDDING_DIMENSION", 1536)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING_DIMENSION: %w", err)
	}

	maxAttempts, err := getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: %w", err)
	}

	processorTimeout, err := getEnvDuration("PROCESSOR_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PROCESSOR_TIMEOUT: %w", err)
	}

	scanInterval, err := getEnvDuration("RETRY_SCAN_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_SCAN_INTERVAL: %w", err)
	}

	tokenTTL, err := getEnvDuration("TOKEN_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Rabbit: RabbitConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "chat"),
		},
		Processor: ProcessorConfig{
			WebhookURL:    getEnv("PROCESSOR_WEBHOOK_URL", ""),
			Timeout:       processorTimeout,
			ChatTransport: getEnv("CHAT_TRANSPORT", "webhook"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenCache: getEnv("TOKEN_CACHE", "memory"),
			TokenTTL:   tokenTTL,
		},
		Embedding: EmbeddingConfig{
			Dimension: dimension,
		},
		Retry: RetryConfig{
			ScanInterval: scanInterval,
			MaxAttempts:  maxAttempts,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Processor.WebhookURL == "" {
		missing = append(missing, "PROCESSOR_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Processor.ChatTransport != "webhook" && c.Processor.ChatTransport != "queue" {
		return fmt.Errorf("CHAT_TRANSPORT must be webhook or queue, got %q", c.Processor.ChatTransport)
	}
	if c.Auth.TokenCache != "redis" && c.Auth.TokenCache != "memory" {
		return fmt.Errorf("TOKEN_CACHE must be redis or memory, got %q", c.Auth.TokenCache)
	}
	if c.Processor.ChatTransport == "queue" && c.Rabbit.URL == "" {
		return fmt.Errorf("RABBITMQ_URL required when CHAT_TRANSPORT=queue")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
