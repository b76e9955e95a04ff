package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/infrastructure"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	// Services lists the participants hosted by this process
	Services  []string                      `mapstructure:"services"`
	Stock     map[string]int                `mapstructure:"stock"`
	Redis     infrastructure.RedisConfig    `mapstructure:"redis"`
	EventLog  infrastructure.EventLogConfig `mapstructure:"event_log"`
	Consumer  Consumer                      `mapstructure:"consumer"`
	Telemetry Telemetry                     `mapstructure:"telemetry"`
}

type Consumer struct {
	Enabled       bool          `mapstructure:"enabled"`
	Group         string        `mapstructure:"group"`
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
	v.SetEnvPrefix("PARTICIPANT")

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
	v.SetDefault("service_name", "participant-service")
	v.SetDefault("env", getEnv("ENV", "local"))
	v.SetDefault("port", getEnv("PORT", "8081"))
	v.SetDefault("log_level", "info")
	v.SetDefault("services", []string{
		saga.ServiceInventory,
		saga.ServicePayment,
		saga.ServiceOrder,
		saga.ServiceNotification,
	})

	// Redis defaults
	v.SetDefault("redis.addr", getEnv("REDIS_ADDR", infrastructure.DefaultRedisConfig.Addr))
	v.SetDefault("redis.password", getEnv("REDIS_PASSWORD", ""))
	v.SetDefault("redis.pool_size", infrastructure.DefaultRedisConfig.PoolSize)

	// Event log defaults
	v.SetDefault("event_log.backend", getEnv("EVENT_LOG_BACKEND", infrastructure.EventLogRedis))
	v.SetDefault("event_log.max_len", 100000)
	v.SetDefault("event_log.aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	v.SetDefault("event_log.aws.endpoint_sns", getEnv("AWS_ENDPOINT_URL_SNS", ""))
	v.SetDefault("event_log.aws.endpoint_sqs", getEnv("AWS_ENDPOINT_URL_SQS", ""))
	v.SetDefault("event_log.aws.resource_prefix", "saga")
	v.SetDefault("event_log.aws.visibility_timeout", "30s")

	// Consumer defaults
	v.SetDefault("consumer.enabled", true)
	v.SetDefault("consumer.group", "participants")
	v.SetDefault("consumer.batch_size", infrastructure.DefaultConsumerConfig.BatchSize)
	v.SetDefault("consumer.block_time", infrastructure.DefaultConsumerConfig.BlockTime.String())
	v.SetDefault("consumer.claim_min_idle", infrastructure.DefaultConsumerConfig.ClaimMinIdle.String())
	v.SetDefault("consumer.max_deliveries", infrastructure.DefaultConsumerConfig.MaxDeliveries)
	v.SetDefault("consumer.grace_period", infrastructure.DefaultConsumerConfig.GracePeriod.String())

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

// ConsumerConfig converts the consumer settings for the event consumer
func (c *Config) ConsumerConfig(topics []events.Topic) infrastructure.ConsumerConfig {
	cfg := infrastructure.DefaultConsumerConfig
	cfg.Group = c.Consumer.Group
	cfg.Topics = topics
	cfg.BatchSize = c.Consumer.BatchSize
	cfg.BlockTime = c.Consumer.BlockTime
	cfg.ClaimMinIdle = c.Consumer.ClaimMinIdle
	cfg.MaxDeliveries = c.Consumer.MaxDeliveries
	cfg.GracePeriod = c.Consumer.GracePeriod
	return cfg
}
