package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	OpenAI     OpenAIConfig
	SMTP       SMTPConfig
	Slack      SlackConfig
	Session    SessionConfig
	TenantDir  string
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings for client tokens.
type JWTConfig struct {
	Secret    string //nolint:gosec // G117: JWT signing secret config
	AccessTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// OpenAIConfig holds completion-service settings.
type OpenAIConfig struct {
	APIKey      string //nolint:gosec // G117: API credential config
	BaseURL     string
	MaxAttempts int
	RetryDelay  time.Duration
	CallTimeout time.Duration
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string //nolint:gosec // G117: SMTP credential config
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// SessionConfig holds session worker settings.
type SessionConfig struct {
	IdleTTL time.Duration
	MaxHops int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("FOYER_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("FOYER_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("FOYER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	accessTTL, err := getEnvDuration("FOYER_JWT_ACCESS_TTL", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("FOYER_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("FOYER_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	openaiAttempts, err := getEnvInt("FOYER_OPENAI_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	openaiRetryDelay, err := getEnvDuration("FOYER_OPENAI_RETRY_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	openaiTimeout, err := getEnvDuration("FOYER_OPENAI_CALL_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionIdleTTL, err := getEnvDuration("FOYER_SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionMaxHops, err := getEnvInt("FOYER_SESSION_MAX_HOPS", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("FOYER_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("FOYER_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("FOYER_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("FOYER_DB_USER", "foyer"),
			Password: getEnv("FOYER_DB_PASSWORD", ""),
			DBName:   getEnv("FOYER_DB_NAME", "foyer_dev"),
			SSLMode:  getEnv("FOYER_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("FOYER_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("FOYER_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:    getEnv("FOYER_JWT_SECRET", ""),
			AccessTTL: accessTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("FOYER_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("FOYER_OPENAI_API_KEY", ""),
			BaseURL:     getEnv("FOYER_OPENAI_BASE_URL", ""),
			MaxAttempts: openaiAttempts,
			RetryDelay:  openaiRetryDelay,
			CallTimeout: openaiTimeout,
		},
		SMTP: SMTPConfig{
			Addr:     getEnv("FOYER_SMTP_ADDR", "localhost:25"),
			From:     getEnv("FOYER_SMTP_FROM", "noreply@localhost"),
			Username: getEnv("FOYER_SMTP_USERNAME", ""),
			Password: getEnv("FOYER_SMTP_PASSWORD", ""),
		},
		Slack: SlackConfig{
			BotToken: getEnv("FOYER_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("FOYER_SLACK_CHANNEL", ""),
		},
		Session: SessionConfig{
			IdleTTL: sessionIdleTTL,
			MaxHops: sessionMaxHops,
		},
		TenantDir:  getEnv("FOYER_TENANT_DIR", "./tenants"),
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("FOYER_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("FOYER_JWT_SECRET must be at least 32 characters")
	}

	if c.OpenAI.APIKey == "" {
		return errors.New("FOYER_OPENAI_API_KEY is required")
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("FOYER_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("FOYER_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("FOYER_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("FOYER_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("FOYER_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("FOYER_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.OpenAI.MaxAttempts < 1 {
		return fmt.Errorf("FOYER_OPENAI_MAX_ATTEMPTS must be >= 1, got %d", c.OpenAI.MaxAttempts)
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("FOYER_SESSION_IDLE_TTL must be positive, got %s", c.Session.IdleTTL)
	}
	if c.Session.MaxHops < 1 {
		return fmt.Errorf("FOYER_SESSION_MAX_HOPS must be >= 1, got %d", c.Session.MaxHops)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
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
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
