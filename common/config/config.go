package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	EnablePprof bool
	PprofPort   int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds execution engine tunables
type EngineConfig struct {
	// Store selects the persistence profile: "memory" or "postgres"
	Store string

	// LaneQueueSize bounds the pending-event queue per (instance, user) lane
	LaneQueueSize int

	// RetryDelay is the pause before a Retry error policy re-invokes a handler
	RetryDelay time.Duration

	// RetryMaxAttempts caps Retry re-invocations; 0 means unbounded
	RetryMaxAttempts int

	// BackupInterval drives the periodic backup scheduler; 0 disables it
	BackupInterval time.Duration

	// ExternalizeThreshold is the payload size in bytes above which a diff
	// action's payload is moved to blob storage instead of inlined
	ExternalizeThreshold int

	// RestoreMode is the default per-collection restore mode: "rebuild" or
	// "incremental"
	RestoreMode string

	// TaskStreamPrefix namespaces the Redis streams used by the worker queue
	TaskStreamPrefix string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			EnablePprof: getEnvBool("PPROF_ENABLED", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "policy_engine"),
			User:        getEnv("POSTGRES_USER", "policy_engine"),
			Password:    getEnv("POSTGRES_PASSWORD", "policy_engine"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			Store:                getEnv("ENGINE_STORE", "memory"),
			LaneQueueSize:        getEnvInt("ENGINE_LANE_QUEUE_SIZE", 256),
			RetryDelay:           getEnvDuration("ENGINE_RETRY_DELAY", 1*time.Second),
			RetryMaxAttempts:     getEnvInt("ENGINE_RETRY_MAX_ATTEMPTS", 0),
			BackupInterval:       getEnvDuration("ENGINE_BACKUP_INTERVAL", 0),
			ExternalizeThreshold: getEnvInt("ENGINE_EXTERNALIZE_THRESHOLD", 64*1024),
			RestoreMode:          getEnv("ENGINE_RESTORE_MODE", "rebuild"),
			TaskStreamPrefix:     getEnv("ENGINE_TASK_STREAM_PREFIX", "pe.tasks"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Engine.Store != "memory" && c.Engine.Store != "postgres" {
		return fmt.Errorf("unknown engine store: %s", c.Engine.Store)
	}

	if c.Engine.Store == "postgres" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.RestoreMode != "rebuild" && c.Engine.RestoreMode != "incremental" {
		return fmt.Errorf("unknown restore mode: %s", c.Engine.RestoreMode)
	}

	if c.Engine.LaneQueueSize < 1 {
		return fmt.Errorf("lane queue size must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// TaskStream returns the Redis stream name for a worker task type
func (c *EngineConfig) TaskStream(taskType string) string {
	return c.TaskStreamPrefix + "." + strings.ToLower(taskType)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
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
