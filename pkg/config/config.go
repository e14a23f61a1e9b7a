package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	SMTP      SMTPConfig      `json:"smtp"`
	Retry     RetryConfig     `json:"retry"`
	Breaker   BreakerConfig   `json:"breaker"`
	Monitor   MonitorConfig   `json:"monitor"`
	Retention RetentionConfig `json:"retention"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SMTPConfig contains the outbound email transport configuration
type SMTPConfig struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// RetryConfig contains default retry executor settings
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	BaseDelay         time.Duration `json:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// BreakerConfig contains default circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	MonitoringPeriod time.Duration `json:"monitoring_period"`
}

// MonitorConfig contains error monitor alerting settings
type MonitorConfig struct {
	ImmediateAlertSeverities []string      `json:"immediate_alert_severities"`
	ErrorRateThreshold       int           `json:"error_rate_threshold"`
	CircuitBreakerThreshold  int           `json:"circuit_breaker_threshold"`
	EscalationDelay          time.Duration `json:"escalation_delay"`
	BufferCapacity           int           `json:"buffer_capacity"`
	EvictionInterval         time.Duration `json:"eviction_interval"`
}

// RetentionConfig contains cleanup retention windows
type RetentionConfig struct {
	AuditLogDays         int `json:"audit_log_days"`
	NotificationDays     int `json:"notification_days"`
	ErrorLowDays         int `json:"error_low_days"`
	ErrorMediumDays      int `json:"error_medium_days"`
	ErrorHighDays        int `json:"error_high_days"`
	ErrorCriticalDays    int `json:"error_critical_days"`
	CleanupBatchSize     int `json:"cleanup_batch_size"`
	NotificationAutoDays int `json:"notification_auto_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "autopilot"),
			User:            getEnvString("DB_USER", "autopilot"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		SMTP: SMTPConfig{
			Server:   getEnvString("SMTP_SERVER", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnvString("SMTP_USERNAME", ""),
			Password: getEnvString("SMTP_PASSWORD", ""),
			From:     getEnvString("SMTP_FROM", "noreply@aviatorstrainingcentre.in"),
		},
		Retry: RetryConfig{
			MaxRetries:        getEnvInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 1*time.Second),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			MonitoringPeriod: getEnvDuration("BREAKER_MONITORING_PERIOD", 5*time.Minute),
		},
		Monitor: MonitorConfig{
			ImmediateAlertSeverities: getEnvStringSlice("MONITOR_IMMEDIATE_ALERTS", []string{"high", "critical"}),
			ErrorRateThreshold:       getEnvInt("MONITOR_ERROR_RATE_THRESHOLD", 50),
			CircuitBreakerThreshold:  getEnvInt("MONITOR_BREAKER_THRESHOLD", 1),
			EscalationDelay:          getEnvDuration("MONITOR_ESCALATION_DELAY", 30*time.Minute),
			BufferCapacity:           getEnvInt("MONITOR_BUFFER_CAPACITY", 10000),
			EvictionInterval:         getEnvDuration("MONITOR_EVICTION_INTERVAL", 10*time.Minute),
		},
		Retention: RetentionConfig{
			AuditLogDays:         getEnvInt("RETENTION_AUDIT_DAYS", 90),
			NotificationDays:     getEnvInt("RETENTION_NOTIFICATION_DAYS", 30),
			ErrorLowDays:         getEnvInt("RETENTION_ERROR_LOW_DAYS", 30),
			ErrorMediumDays:      getEnvInt("RETENTION_ERROR_MEDIUM_DAYS", 90),
			ErrorHighDays:        getEnvInt("RETENTION_ERROR_HIGH_DAYS", 180),
			ErrorCriticalDays:    getEnvInt("RETENTION_ERROR_CRITICAL_DAYS", 365),
			CleanupBatchSize:     getEnvInt("RETENTION_CLEANUP_BATCH_SIZE", 100),
			NotificationAutoDays: getEnvInt("RETENTION_NOTIFICATION_AUTO_DAYS", 7),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay must not exceed max delay")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
