package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/draftea/saga-system/coordinator-service/infrastructure"
	"github.com/draftea/saga-system/shared/events"
	sharedinfra "github.com/draftea/saga-system/shared/infrastructure"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string                     `mapstructure:"service_name"`
	Env         string                     `mapstructure:"env"`
	Port        string                     `mapstructure:"port"`
	LogLevel    string                     `mapstructure:"log_level"`
	Redis       sharedinfra.RedisConfig    `mapstructure:"redis"`
	EventLog    sharedinfra.EventLogConfig `mapstructure:"event_log"`
	Database    Database                   `mapstructure:"database"`
	Saga        Saga                       `mapstructure:"saga"`
	// Participants maps a service name to the base URL of its saga endpoints
	Participants map[string]string               `mapstructure:"participants"`
	HTTPClient   infrastructure.HTTPClientConfig `mapstructure:"http_client"`
	Consumer     Consumer                        `mapstructure:"consumer"`
	Telemetry    Telemetry                       `mapstructure:"telemetry"`
}

// Database configures the optional Postgres event archive
type Database struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type Saga struct {
	StepTimeout          time.Duration `mapstructure:"step_timeout"`
	StepAttempts         uint          `mapstructure:"step_attempts"`
	CompensationAttempts uint          `mapstructure:"compensation_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay        time.Duration `mapstructure:"max_retry_delay"`
	// Retention is how long a closed saga stays readable
	Retention         time.Duration `mapstructure:"retention"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
}

type Consumer struct {
	Enabled       bool          `mapstructure:"enabled"`
	Group         string        `mapstructure:"group"`
	ArchiveGroup  string        `mapstructure:"archive_group"`
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockTime     time.Duration `mapstructure:"block_time"`
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	MaxDeliveries int64         `mapstructure:"max_deliveries"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("unable to get current file")
	}

	v := viper.New()
	v.SetConfigName(getConfigName())
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Dir(filename))

	// Allow environment variables to override config
	v.AutomaticEnv()
	v.SetEnvPrefix("COORDINATOR")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service_name", "saga-coordinator")
	v.SetDefault("env", getEnv("ENV", "local"))
	v.SetDefault("port", getEnv("PORT", "8080"))
	v.SetDefault("log_level", "info")

	// Redis defaults
	v.SetDefault("redis.addr", getEnv("REDIS_ADDR", sharedinfra.DefaultRedisConfig.Addr))
	v.SetDefault("redis.password", getEnv("REDIS_PASSWORD", ""))
	v.SetDefault("redis.pool_size", sharedinfra.DefaultRedisConfig.PoolSize)

	// Event log defaults
	v.SetDefault("event_log.backend", getEnv("EVENT_LOG_BACKEND", sharedinfra.EventLogRedis))
	v.SetDefault("event_log.max_len", 100000)
	v.SetDefault("event_log.aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	v.SetDefault("event_log.aws.endpoint_sns", getEnv("AWS_ENDPOINT_URL_SNS", ""))
	v.SetDefault("event_log.aws.endpoint_sqs", getEnv("AWS_ENDPOINT_URL_SQS", ""))
	v.SetDefault("event_log.aws.resource_prefix", "saga")
	v.SetDefault("event_log.aws.visibility_timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", getEnv("DATABASE_URL", ""))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "saga_events")
	v.SetDefault("database.ssl_mode", "disable")

	// Saga defaults
	v.SetDefault("saga.step_timeout", saga.DefaultOrchestratorConfig.StepTimeout.String())
	v.SetDefault("saga.step_attempts", saga.DefaultOrchestratorConfig.StepAttempts)
	v.SetDefault("saga.compensation_attempts", saga.DefaultOrchestratorConfig.CompensationAttempts)
	v.SetDefault("saga.retry_delay", saga.DefaultOrchestratorConfig.RetryDelay.String())
	v.SetDefault("saga.max_retry_delay", saga.DefaultOrchestratorConfig.MaxRetryDelay.String())
	v.SetDefault("saga.retention", "24h")
	v.SetDefault("saga.retention_schedule", sharedinfra.DefaultRetentionSchedule)

	// Participant client defaults
	v.SetDefault("http_client.retry_max", infrastructure.DefaultHTTPClientConfig.RetryMax)
	v.SetDefault("http_client.retry_wait_min", infrastructure.DefaultHTTPClientConfig.RetryWaitMin.String())
	v.SetDefault("http_client.retry_wait_max", infrastructure.DefaultHTTPClientConfig.RetryWaitMax.String())
	v.SetDefault("http_client.timeout", infrastructure.DefaultHTTPClientConfig.Timeout.String())

	// Consumer defaults
	v.SetDefault("consumer.enabled", true)
	v.SetDefault("consumer.group", "saga-coordinator")
	v.SetDefault("consumer.archive_group", "saga-archive")
	v.SetDefault("consumer.batch_size", sharedinfra.DefaultConsumerConfig.BatchSize)
	v.SetDefault("consumer.block_time", sharedinfra.DefaultConsumerConfig.BlockTime.String())
	v.SetDefault("consumer.claim_min_idle", sharedinfra.DefaultConsumerConfig.ClaimMinIdle.String())
	v.SetDefault("consumer.max_deliveries", sharedinfra.DefaultConsumerConfig.MaxDeliveries)
	v.SetDefault("consumer.grace_period", sharedinfra.DefaultConsumerConfig.GracePeriod.String())

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs database URL from config
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// OrchestratorConfig converts the saga settings for the orchestrator
func (c *Config) OrchestratorConfig() saga.OrchestratorConfig {
	return saga.OrchestratorConfig{
		StepTimeout:          c.Saga.StepTimeout,
		StepAttempts:         c.Saga.StepAttempts,
		CompensationAttempts: c.Saga.CompensationAttempts,
		RetryDelay:           c.Saga.RetryDelay,
		MaxRetryDelay:        c.Saga.MaxRetryDelay,
	}
}

// ConsumerConfig converts the consumer settings for an event consumer in the given group
func (c *Config) ConsumerConfig(group string, topics []events.Topic) sharedinfra.ConsumerConfig {
	cfg := sharedinfra.DefaultConsumerConfig
	cfg.Group = group
	cfg.Topics = topics
	cfg.BatchSize = c.Consumer.BatchSize
	cfg.BlockTime = c.Consumer.BlockTime
	cfg.ClaimMinIdle = c.Consumer.ClaimMinIdle
	cfg.MaxDeliveries = c.Consumer.MaxDeliveries
	cfg.GracePeriod = c.Consumer.GracePeriod
	return cfg
}
