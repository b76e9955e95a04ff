package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ConsumerConfig configures an EventConsumer
type ConsumerConfig struct {
	Group      string
	ConsumerID string
	Topics     []events.Topic
	BatchSize  int64
	BlockTime  time.Duration
	// ClaimMinIdle is how long an entry stays unacknowledged before it is redelivered
	ClaimMinIdle         time.Duration
	PendingCheckInterval time.Duration
	// MaxDeliveries moves an entry to the dead letter topic once exceeded; zero disables
	MaxDeliveries int64
	ErrorBackoff  time.Duration
	// GracePeriod bounds how long the in-flight batch may run after cancellation
	GracePeriod time.Duration
}

// DefaultConsumerConfig holds defaults for zero-valued fields. A zero
// ClaimMinIdle is kept and claims pending entries immediately.
var DefaultConsumerConfig = ConsumerConfig{
	BatchSize:            10,
	BlockTime:            2 * time.Second,
	ClaimMinIdle:         30 * time.Second,
	PendingCheckInterval: 30 * time.Second,
	MaxDeliveries:        5,
	ErrorBackoff:         time.Second,
	GracePeriod:          10 * time.Second,
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	d := DefaultConsumerConfig
	if c.ConsumerID == "" {
		c.ConsumerID = fmt.Sprintf("%s-%s", c.Group, models.GenerateUUID())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BlockTime <= 0 {
		c.BlockTime = d.BlockTime
	}
	if c.ClaimMinIdle < 0 {
		c.ClaimMinIdle = d.ClaimMinIdle
	}
	if c.PendingCheckInterval <= 0 {
		c.PendingCheckInterval = d.PendingCheckInterval
	}
	if c.MaxDeliveries < 0 {
		c.MaxDeliveries = 0
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	return c
}

// EventConsumer reads a consumer group and dispatches entries to a handler.
// Entries are acknowledged one by one and only after the handler succeeds.
type EventConsumer struct {
	log     events.EventLog
	handler events.EventHandler
	config  ConsumerConfig
	logger  zerolog.Logger
}

// NewEventConsumer creates a consumer; a missing consumer id gets a unique one
func NewEventConsumer(log events.EventLog, handler events.EventHandler, config ConsumerConfig, logger zerolog.Logger) (*EventConsumer, error) {
	if config.Group == "" {
		return nil, errors.New("consumer group is required")
	}
	if len(config.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	config = config.withDefaults()
	return &EventConsumer{
		log:     log,
		handler: handler,
		config:  config,
		logger: logger.With().
			Str("component", "event_consumer").
			Str("group", config.Group).
			Str("consumer", config.ConsumerID).
			Logger(),
	}, nil
}

// ConsumerID returns the member name used in the group
func (c *EventConsumer) ConsumerID() string {
	return c.config.ConsumerID
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and an
// error only when the groups cannot be set up.
func (c *EventConsumer) Run(ctx context.Context) error {
	for _, topic := range c.config.Topics {
		if err := c.log.EnsureGroup(ctx, topic, c.config.Group); err != nil {
			return errors.Wrapf(err, "failed to ensure group on %s", topic)
		}
	}

	c.logger.Info().Interface("topics", c.config.Topics).Msg("consumer started")
	c.processPending(ctx)

	ticker := time.NewTicker(c.config.PendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("consumer stopped")
			return nil
		case <-ticker.C:
			c.processPending(ctx)
			continue
		default:
		}

		entries, err := c.log.ReadGroup(ctx, c.config.Group, c.config.ConsumerID, c.config.Topics, c.config.BatchSize, c.config.BlockTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn().Err(err).Dur("backoff", c.config.ErrorBackoff).Msg("read failed")
			c.sleep(ctx, c.config.ErrorBackoff)
			continue
		}

		c.processBatch(ctx, entries)
	}
}

func (c *EventConsumer) processPending(ctx context.Context) {
	for _, topic := range c.config.Topics {
		entries, err := c.log.ClaimStale(ctx, topic, c.config.Group, c.config.ConsumerID, c.config.ClaimMinIdle, c.config.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Str("topic", topic.String()).Msg("failed to claim pending entries")
			}
			continue
		}
		if len(entries) > 0 {
			c.logger.Info().Str("topic", topic.String()).Int("count", len(entries)).Msg("redelivering pending entries")
		}
		c.processBatch(ctx, entries)
	}
}

// processBatch keeps handling after ctx is cancelled until the grace period
// elapses; entries not reached stay pending for redelivery.
func (c *EventConsumer) processBatch(ctx context.Context, entries []events.LogEntry) {
	if len(entries) == 0 {
		return
	}

	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(c.config.GracePeriod, cancel)
	})
	defer stop()

	for i, entry := range entries {
		if work.Err() != nil {
			c.logger.Warn().Int("remaining", len(entries)-i).Msg("grace period elapsed, leaving entries pending")
			return
		}
		c.processEntry(work, entry)
	}
}

func (c *EventConsumer) processEntry(ctx context.Context, entry events.LogEntry) {
	log := c.logger.With().Str("entry_id", entry.ID).Str("topic", entry.Topic.String()).Logger()

	if c.config.MaxDeliveries > 0 && entry.Deliveries > c.config.MaxDeliveries {
		reason := fmt.Sprintf("max deliveries exceeded: %d", entry.Deliveries)
		if err := c.log.DeadLetter(ctx, entry, c.config.Group, reason); err != nil {
			log.Error().Err(err).Msg("failed to dead letter entry")
			return
		}
		c.ack(ctx, entry, log)
		c.record(ctx, entry.EventType, "dead_lettered")
		log.Warn().Int64("deliveries", entry.Deliveries).Msg("entry moved to dead letter topic")
		return
	}

	evt, err := events.FromJSON(entry.Data)
	if err != nil {
		log.Warn().Err(err).Str("event_type", entry.EventType).Msg("dropping malformed entry")
		c.ack(ctx, entry, log)
		c.record(ctx, entry.EventType, "malformed")
		return
	}

	log = log.With().Str("event_id", evt.ID.String()).Str("event_type", evt.EventType).Logger()
	if err := c.handler.Handle(ctx, evt); err != nil {
		log.Warn().Err(err).Int64("deliveries", entry.Deliveries).Msg("handler failed, entry left pending")
		c.record(ctx, evt.EventType, "failed")
		return
	}

	c.ack(ctx, entry, log)
	c.record(ctx, evt.EventType, "processed")
}

func (c *EventConsumer) ack(ctx context.Context, entry events.LogEntry, log zerolog.Logger) {
	if err := c.log.Ack(ctx, entry.Topic, c.config.Group, entry.ID); err != nil {
		log.Error().Err(err).Msg("failed to ack entry")
	}
}

func (c *EventConsumer) record(ctx context.Context, eventType, outcome string) {
	telemetry.RecordCounter(ctx, "saga_events_consumed_total", "Events consumed from the event log", 1,
		attribute.String("group", c.config.Group),
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
}

func (c *EventConsumer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
