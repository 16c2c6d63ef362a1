package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           string `yaml:"port"`
	DatabaseURL    string `yaml:"database_url"`
	MigrationsPath string `yaml:"migrations_path"`

	// Tokens
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	RedisURL  string        `yaml:"redis_url"`

	// Kafka / Notifications
	KafkaBrokers       string `yaml:"kafka_brokers"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// WebSocket
	AllowedOrigins        string        `yaml:"allowed_origins"`
	DeliveryTimeout       time.Duration `yaml:"ws_delivery_timeout"`
	SendBuffer            int           `yaml:"ws_send_buffer"`
	MaxConnectionsPerUser int           `yaml:"ws_max_connections_per_user"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		Port:                  "8080",
		DatabaseURL:           "",
		MigrationsPath:        "migrations",
		JWTSecret:             "dev-secret-change-in-prod",
		TokenTTL:              24 * time.Hour,
		KafkaConsumerGroup:    "herald-notifications",
		AllowedOrigins:        "http://localhost:3000",
		DeliveryTimeout:       5 * time.Second,
		SendBuffer:            64,
		MaxConnectionsPerUser: 0,
		ShutdownGrace:         10 * time.Second,
		RateLimitRPS:          100,
		RateLimitBurst:        200,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// named by CONFIG_FILE, then environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.MigrationsPath)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = getDuration("TOKEN_TTL", cfg.TokenTTL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.DeliveryTimeout = getDuration("WS_DELIVERY_TIMEOUT", cfg.DeliveryTimeout)
	cfg.SendBuffer = getInt("WS_SEND_BUFFER", cfg.SendBuffer)
	cfg.MaxConnectionsPerUser = getInt("WS_MAX_CONNECTIONS_PER_USER", cfg.MaxConnectionsPerUser)
	cfg.ShutdownGrace = getDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace)
	cfg.RateLimitRPS = getFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("WS_DELIVERY_TIMEOUT must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	if c.MaxConnectionsPerUser < 0 {
		errs = append(errs, errors.New("WS_MAX_CONNECTIONS_PER_USER must not be negative"))
	}
	if c.ShutdownGrace <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_GRACE must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
