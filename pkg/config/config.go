package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Queue    QueueConfig    `json:"queue"`
	Executor ExecutorConfig `json:"executor"`
	Breaker  BreakerConfig  `json:"breaker"`
	Session  SessionConfig  `json:"session"`
	Redis    RedisConfig    `json:"redis"`
	Archive  ArchiveConfig  `json:"archive"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// QueueConfig contains work queue configuration
type QueueConfig struct {
	MaxWorkers      int           `json:"max_workers"`
	MaxQueueSize    int           `json:"max_queue_size"`
	BatchSize       int           `json:"batch_size"`
	PollInterval    time.Duration `json:"poll_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// ExecutorConfig contains resilient executor configuration
type ExecutorConfig struct {
	MaxRetries     int           `json:"max_retries"`
	InitialTimeout time.Duration `json:"initial_timeout"`
	BackoffFactor  float64       `json:"backoff_factor"`
	DepthLimit     int           `json:"depth_limit"`
	DepthBuffer    int           `json:"depth_buffer"`
}

// BreakerConfig contains failure breaker configuration
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenAttempts int           `json:"half_open_attempts"`
}

// SessionConfig contains session registry configuration
type SessionConfig struct {
	IsolationLevel       string        `json:"isolation_level"`
	Retention            time.Duration `json:"retention"`
	CrossSessionLearning bool          `json:"cross_session_learning"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ArchiveConfig contains result archive configuration
type ArchiveConfig struct {
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Queue: QueueConfig{
			MaxWorkers:      getEnvInt("QUEUE_MAX_WORKERS", 2),
			MaxQueueSize:    getEnvInt("QUEUE_MAX_SIZE", 50),
			BatchSize:       getEnvInt("QUEUE_BATCH_SIZE", 1),
			PollInterval:    getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
			ShutdownTimeout: getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Executor: ExecutorConfig{
			MaxRetries:     getEnvInt("EXECUTOR_MAX_RETRIES", 2),
			InitialTimeout: getEnvDuration("EXECUTOR_INITIAL_TIMEOUT", 180*time.Second),
			BackoffFactor:  getEnvFloat("EXECUTOR_BACKOFF_FACTOR", 1.5),
			DepthLimit:     getEnvInt("EXECUTOR_DEPTH_LIMIT", 1000),
			DepthBuffer:    getEnvInt("EXECUTOR_DEPTH_BUFFER", 50),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 12),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 90*time.Second),
			HalfOpenAttempts: getEnvInt("BREAKER_HALF_OPEN_ATTEMPTS", 2),
		},
		Session: SessionConfig{
			IsolationLevel:       getEnvString("SESSION_ISOLATION_LEVEL", "strict"),
			Retention:            getEnvDuration("SESSION_RETENTION", 24*time.Hour),
			CrossSessionLearning: getEnvBool("SESSION_CROSS_LEARNING", false),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Archive: ArchiveConfig{
			Enabled: getEnvBool("ARCHIVE_ENABLED", false),
			TTL:     getEnvDuration("ARCHIVE_TTL", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "essayagents"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Queue.MaxWorkers <= 0 {
		return fmt.Errorf("queue max workers must be positive")
	}

	if c.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("queue max size must be positive")
	}

	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue batch size must be positive")
	}

	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor max retries must not be negative")
	}

	if c.Executor.BackoffFactor <= 1.0 {
		return fmt.Errorf("executor backoff factor must be greater than 1.0")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	if c.Breaker.HalfOpenAttempts <= 0 {
		return fmt.Errorf("breaker half-open attempts must be positive")
	}

	switch c.Session.IsolationLevel {
	case "strict", "moderate", "minimal":
	default:
		return fmt.Errorf("unknown session isolation level: %s", c.Session.IsolationLevel)
	}

	return nil
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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
