// Package config loads orchestrator configuration from the environment,
// following the teacher's env-var-driven Load() with typed getters and a
// validate() pass, extended with the orchestrator's own sections (bots,
// queue, scheduler, randomization, pool monitor, adjuster, campaigns,
// shutdown).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Bots          BotsConfig
	Queue         QueueConfig
	Scheduler     SchedulerConfig
	Randomization RandomizationConfig
	PoolMonitor   PoolMonitorConfig
	Adjuster      AdjusterConfig
	Campaigns     CampaignsConfig
	ShutdownTimeout time.Duration
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	QueryTimeout        time.Duration
	HealthCheckInterval time.Duration
}

type RedisConfig struct {
	URL             string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// ObservabilityConfig drives the structured logger.
type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
}

// BotsConfig bounds fleet-wide bot concurrency (spec §6: bots.max_concurrent).
type BotsConfig struct {
	MaxConcurrent int
}

// QueueConfig configures the Task Queue's worker pool and default retry
// policy (spec §6: queue.concurrency, queue.default_retry.*).
type QueueConfig struct {
	Concurrency           int
	DefaultRetryAttempts  int
	DefaultRetryBackoff   time.Duration
	DefaultRetryCap       time.Duration
	DefaultRetryJitterPct float64
	HighWatermarkPending  int
}

// SchedulerConfig configures cron evaluation and the armed-job cap (spec §6:
// scheduler.timezone, scheduler.max_concurrent_scheduled).
type SchedulerConfig struct {
	Timezone               string
	MaxConcurrentScheduled int
}

// RandomizationConfig supplies defaults a bot config can omit (spec §6).
type RandomizationConfig struct {
	DefaultTimingDistribution string
	DefaultSizeDistribution   string
	TimingJitterPercent       float64
	SizeJitterPercent         float64
}

// PoolMonitorConfig drives migration detection (spec §6).
type PoolMonitorConfig struct {
	PollingInterval time.Duration
	MinLiquidity    string // decimal string; parsed by the monitor
	AutoRedirect    bool
}

// AdjusterConfig configures the closed-loop controller (spec §4.9, §6).
type AdjusterConfig struct {
	TickInterval      time.Duration
	Tolerance         float64
	Gain              float64
	CoolDownSeconds   int
	MinBots           int
	MaxBots           int
	MaxBotDeltaPerTick int
	PendingCap        int
}

// CampaignsConfig bounds concurrently active campaigns.
type CampaignsConfig struct {
	MaxConcurrentCampaigns int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL:                 getEnv("DATABASE_URL", ""),
			MaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime:     getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			QueryTimeout:        getDurationEnv("DB_QUERY_TIMEOUT", 30*time.Second),
			HealthCheckInterval: getDurationEnv("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getIntEnv("REDIS_DB", 0),
			PoolSize:        getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:     getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			MaxRetries:      getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "solbotswarm-orchestrator"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
		Bots: BotsConfig{
			MaxConcurrent: getIntEnv("BOTS_MAX_CONCURRENT", 200),
		},
		Queue: QueueConfig{
			Concurrency:           getIntEnv("QUEUE_CONCURRENCY", 50),
			DefaultRetryAttempts:  getIntEnv("QUEUE_DEFAULT_RETRY_ATTEMPTS", 3),
			DefaultRetryBackoff:   getDurationEnv("QUEUE_DEFAULT_RETRY_BACKOFF", time.Second),
			DefaultRetryCap:       getDurationEnv("QUEUE_DEFAULT_RETRY_CAP", 10*time.Second),
			DefaultRetryJitterPct: getFloatEnv("QUEUE_DEFAULT_RETRY_JITTER_PCT", 0.10),
			HighWatermarkPending:  getIntEnv("QUEUE_HIGH_WATERMARK_PENDING", 5000),
		},
		Scheduler: SchedulerConfig{
			Timezone:               getEnv("SCHEDULER_TIMEZONE", "UTC"),
			MaxConcurrentScheduled: getIntEnv("SCHEDULER_MAX_CONCURRENT_SCHEDULED", 500),
		},
		Randomization: RandomizationConfig{
			DefaultTimingDistribution: getEnv("RANDOMIZATION_DEFAULT_TIMING_DISTRIBUTION", "poisson"),
			DefaultSizeDistribution:   getEnv("RANDOMIZATION_DEFAULT_SIZE_DISTRIBUTION", "skewed-low"),
			TimingJitterPercent:       getFloatEnv("RANDOMIZATION_TIMING_JITTER_PERCENT", 0.15),
			SizeJitterPercent:         getFloatEnv("RANDOMIZATION_SIZE_JITTER_PERCENT", 0.10),
		},
		PoolMonitor: PoolMonitorConfig{
			PollingInterval: getDurationEnv("POOL_MONITOR_POLLING_INTERVAL", 15*time.Second),
			MinLiquidity:    getEnv("POOL_MONITOR_MIN_LIQUIDITY", "50000"),
			AutoRedirect:    getBoolEnv("POOL_MONITOR_AUTO_REDIRECT", true),
		},
		Adjuster: AdjusterConfig{
			TickInterval:       getDurationEnv("ADJUSTER_TICK_INTERVAL", 60*time.Second),
			Tolerance:          getFloatEnv("ADJUSTER_TOLERANCE", 0.05),
			Gain:               getFloatEnv("ADJUSTER_GAIN", 0.5),
			CoolDownSeconds:    getIntEnv("ADJUSTER_COOL_DOWN_SECONDS", 120),
			MinBots:            getIntEnv("ADJUSTER_MIN_BOTS", 1),
			MaxBots:            getIntEnv("ADJUSTER_MAX_BOTS", 500),
			MaxBotDeltaPerTick: getIntEnv("ADJUSTER_MAX_BOT_DELTA_PER_TICK", 10),
			PendingCap:         getIntEnv("ADJUSTER_PENDING_CAP", 2000),
		},
		Campaigns: CampaignsConfig{
			MaxConcurrentCampaigns: getIntEnv("CAMPAIGNS_MAX_CONCURRENT", 50),
		},
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Bots.MaxConcurrent <= 0 {
		return fmt.Errorf("BOTS_MAX_CONCURRENT must be positive")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive")
	}
	if c.Adjuster.MinBots > c.Adjuster.MaxBots {
		return fmt.Errorf("ADJUSTER_MIN_BOTS must not exceed ADJUSTER_MAX_BOTS")
	}
	return nil
}

// Helper functions for environment variable parsing, following the
// teacher's internal/config helpers.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

