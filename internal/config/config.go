package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Alerting AlertingConfig
	SMTP     SMTPConfig
	Slack    SlackConfig
}

// ServerConfig contains the operational HTTP listener configuration
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	Environment     string
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// For SQLite
	Path string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// AlertingConfig contains evaluation and delivery tuning
type AlertingConfig struct {
	EvaluationSchedule string
	RetrySchedule      string
	EscalationSchedule string
	EvaluationWorkers  int
	SendTimeout        time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
}

// SMTPConfig contains email channel transport configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SlackConfig contains the fallback Slack webhook configuration
type SlackConfig struct {
	WebhookURL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors as it's optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 9090),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "vigil"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Path:            getEnv("DB_PATH", "./vigil.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Alerting: AlertingConfig{
			EvaluationSchedule: getEnv("ALERT_EVALUATION_SCHEDULE", "@every 1m"),
			RetrySchedule:      getEnv("ALERT_RETRY_SCHEDULE", "@every 30s"),
			EscalationSchedule: getEnv("ALERT_ESCALATION_SCHEDULE", "@every 5m"),
			EvaluationWorkers:  getEnvAsInt("ALERT_EVALUATION_WORKERS", 8),
			SendTimeout:        getEnvAsDuration("ALERT_SEND_TIMEOUT", 10*time.Second),
			MaxAttempts:        getEnvAsInt("ALERT_MAX_ATTEMPTS", 3),
			BackoffBase:        getEnvAsDuration("ALERT_BACKOFF_BASE", 30*time.Second),
			BackoffCap:         getEnvAsDuration("ALERT_BACKOFF_CAP", 15*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "alerts@localhost"),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Alerting.EvaluationWorkers < 1 {
		return fmt.Errorf("invalid evaluation worker count: %d", c.Alerting.EvaluationWorkers)
	}

	if c.Alerting.MaxAttempts < 1 {
		return fmt.Errorf("invalid max delivery attempts: %d", c.Alerting.MaxAttempts)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
