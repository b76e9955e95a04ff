package infrastructure

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/draftea/saga-system/shared/events"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Event log backends
const (
	EventLogRedis  = "redis"
	EventLogSNSSQS = "sns_sqs"
)

// AWSConfig holds the settings of the SNS/SQS event log
type AWSConfig struct {
	Region            string        `mapstructure:"region"`
	EndpointSNS       string        `mapstructure:"endpoint_sns"`
	EndpointSQS       string        `mapstructure:"endpoint_sqs"`
	ResourcePrefix    string        `mapstructure:"resource_prefix"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// EventLogConfig selects and configures the event log backend
type EventLogConfig struct {
	Backend string `mapstructure:"backend"`
	// MaxLen caps Redis streams approximately; zero keeps every entry
	MaxLen int64     `mapstructure:"max_len"`
	AWS    AWSConfig `mapstructure:"aws"`
}

// NewEventLog builds the configured backend. The Redis client is only used by the redis backend.
func NewEventLog(ctx context.Context, cfg EventLogConfig, client *redis.Client) (events.EventLog, error) {
	switch cfg.Backend {
	case "", EventLogRedis:
		if client == nil {
			return nil, errors.New("redis event log requires a redis client")
		}
		return NewRedisEventLog(client, cfg.MaxLen), nil
	case EventLogSNSSQS:
		return NewAWSEventLog(ctx, cfg.AWS)
	default:
		return nil, errors.Errorf("unknown event log backend %q", cfg.Backend)
	}
}

// NewAWSEventLog builds an SNS/SQS event log from the default AWS credential chain.
// Endpoints override the service URLs, e.g. for LocalStack.
func NewAWSEventLog(ctx context.Context, cfg AWSConfig) (*SNSSQSEventLog, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.EndpointSNS != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointSNS)
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.EndpointSQS != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointSQS)
		}
	})

	return NewSNSSQSEventLog(snsClient, sqsClient, cfg.ResourcePrefix, cfg.VisibilityTimeout), nil
}
