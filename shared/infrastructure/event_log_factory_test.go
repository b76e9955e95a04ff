package infrastructure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLog(t *testing.T) {
	_, client := newTestRedis(t)

	tests := []struct {
		name          string
		config        EventLogConfig
		withClient    bool
		expectedType  interface{}
		expectedError string
	}{
		{name: "default backend is redis", config: EventLogConfig{}, withClient: true, expectedType: &RedisEventLog{}},
		{name: "redis backend", config: EventLogConfig{Backend: EventLogRedis, MaxLen: 100}, withClient: true, expectedType: &RedisEventLog{}},
		{name: "redis backend without client", config: EventLogConfig{Backend: EventLogRedis}, expectedError: "requires a redis client"},
		{
			name: "sns sqs backend",
			config: EventLogConfig{Backend: EventLogSNSSQS, AWS: AWSConfig{
				Region:         "us-east-1",
				EndpointSNS:    "http://localhost:4566",
				EndpointSQS:    "http://localhost:4566",
				ResourcePrefix: "saga",
			}},
			expectedType: &SNSSQSEventLog{},
		},
		{name: "unknown backend", config: EventLogConfig{Backend: "kafka"}, expectedError: `unknown event log backend "kafka"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.Backend == EventLogSNSSQS {
				t.Setenv("AWS_ACCESS_KEY_ID", "test")
				t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
			}
			c := client
			if !tt.withClient {
				c = nil
			}

			log, err := NewEventLog(context.Background(), tt.config, c)

			if tt.expectedError != "" {
				assert.ErrorContains(t, err, tt.expectedError)
				assert.Nil(t, log)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expectedType, log)
		})
	}
}
