// Package config provides environment-based configuration management
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr string // Format: host:port
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port            int
	DashboardSecret string // authenticates dashboard websocket clients
}

// IngestConfig holds channel-gateway webhook settings
type IngestConfig struct {
	HMACSecret string // For HMAC SHA256 signature validation of inbound webhooks
}

// NotifyConfig holds notification gateway settings
type NotifyConfig struct {
	BaseURL   string
	AuthToken string
}

// TriageConfig holds the triage pipeline tunables
type TriageConfig struct {
	CacheMaxEntries int64
	CacheTTLLive    time.Duration // "live_data" category
	CacheTTLStatic  time.Duration // "static" category
	SweepInterval   time.Duration // SLA breach sweep period
	AssignRetries   int           // optimistic-concurrency retries per assignment
}

// Config aggregates all configuration sections
type Config struct {
	DB     DBConfig
	Redis  RedisConfig
	App    AppConfig
	Ingest IngestConfig
	Notify NotifyConfig
	Triage TriageConfig
}

// LoadConfig reads configuration from environment variables
// Returns error if critical variables are missing
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "triage_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "omnidesk_triage")

	if cfg.DB.Password == "" {
		return nil, fmt.Errorf("DB_PASS environment variable is required")
	}

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "triage_redis:6379")

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.DashboardSecret = getEnv("DASHBOARD_SECRET", "")

	// Ingest Configuration
	cfg.Ingest.HMACSecret = getEnv("INGEST_HMAC_SECRET", "")
	if cfg.Ingest.HMACSecret == "" {
		return nil, fmt.Errorf("INGEST_HMAC_SECRET environment variable is required")
	}

	// Notification Gateway Configuration
	cfg.Notify.BaseURL = getEnv("NOTIFY_BASE_URL", "")
	cfg.Notify.AuthToken = getEnv("NOTIFY_AUTH_TOKEN", "")

	// Triage Tunables
	cfg.Triage.CacheMaxEntries = int64(getEnvAsInt("CACHE_MAX_ENTRIES", 10000))
	cfg.Triage.CacheTTLLive = getEnvAsDuration("CACHE_TTL_LIVE", 5*time.Minute)
	cfg.Triage.CacheTTLStatic = getEnvAsDuration("CACHE_TTL_STATIC", time.Hour)
	cfg.Triage.SweepInterval = getEnvAsDuration("SLA_SWEEP_INTERVAL", 5*time.Minute)
	cfg.Triage.AssignRetries = getEnvAsInt("ASSIGN_RETRIES", 3)

	return cfg, nil
}

// GetDSN returns the MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration reads environment variable as a Go duration with fallback default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
