package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/draftea/saga-system/shared/saga"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ saga.Participant = (*HTTPParticipant)(nil)

const (
	participatePath = "/saga/participate"
	compensatePath  = "/saga/compensate"
)

// HTTPClientConfig configures the retrying transport to participants
type HTTPClientConfig struct {
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DefaultHTTPClientConfig is used for zero-valued fields
var DefaultHTTPClientConfig = HTTPClientConfig{
	RetryMax:     2,
	RetryWaitMin: 100 * time.Millisecond,
	RetryWaitMax: time.Second,
	Timeout:      10 * time.Second,
}

// HTTPParticipant calls a remote participant over the step transport.
// Connection errors and 5xx responses are retried; a response that cannot be
// read as a step result is a transport error.
type HTTPParticipant struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPParticipant creates a participant client for the service at baseURL
func NewHTTPParticipant(baseURL string, cfg HTTPClientConfig, logger zerolog.Logger) *HTTPParticipant {
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultHTTPClientConfig.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultHTTPClientConfig.RetryWaitMax
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPClientConfig.Timeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{logger.With().Str("participant_url", baseURL).Logger()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPParticipant{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// NewHTTPParticipants builds one client per service
func NewHTTPParticipants(urls map[string]string, cfg HTTPClientConfig, logger zerolog.Logger) map[string]saga.Participant {
	participants := make(map[string]saga.Participant, len(urls))
	for service, url := range urls {
		participants[service] = NewHTTPParticipant(url, cfg, logger.With().Str("participant", service).Logger())
	}
	return participants
}

// ExecuteStep posts the step request to the participant
func (p *HTTPParticipant) ExecuteStep(ctx context.Context, req *saga.StepRequest) (*saga.StepResult, error) {
	return p.post(ctx, participatePath, req)
}

// CompensateStep posts the compensation request to the participant
func (p *HTTPParticipant) CompensateStep(ctx context.Context, req *saga.CompensationRequest) (*saga.StepResult, error) {
	return p.post(ctx, compensatePath, req)
}

func (p *HTTPParticipant) post(ctx context.Context, path string, body interface{}) (*saga.StepResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	url := p.baseURL + path
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("POST %s: unexpected status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result saga.StepResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrapf(err, "POST %s: invalid step result", url)
	}
	return &result, nil
}

// leveledLogger routes retryablehttp logs to zerolog
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
