package infrastructure

import (
	"context"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ events.Publisher = (*EventProducer)(nil)

// EventProducer writes events to their type's topic and to the catch-all topic
type EventProducer struct {
	log    events.EventLog
	source string
	logger zerolog.Logger
}

// NewEventProducer creates a producer stamping source on events that lack one
func NewEventProducer(log events.EventLog, source string, logger zerolog.Logger) *EventProducer {
	return &EventProducer{
		log:    log,
		source: source,
		logger: logger.With().Str("component", "event_producer").Logger(),
	}
}

// Publish appends each event in order and stops at the first failure
func (p *EventProducer) Publish(ctx context.Context, evts ...*events.Event) error {
	for _, evt := range evts {
		if err := p.publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (p *EventProducer) publish(ctx context.Context, evt *events.Event) error {
	if evt == nil {
		return errors.New("nil event")
	}
	if evt.EventType == "" {
		return events.ErrMissingType
	}
	p.stamp(evt)

	raw, err := evt.ToJSON()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s", evt.EventType)
	}

	entry := events.LogEntry{
		EventType: evt.EventType,
		Data:      raw,
		Timestamp: evt.Timestamp,
	}

	topic := events.TopicFor(evt.EventType)
	for _, t := range []events.Topic{topic, events.TopicAll} {
		id, err := p.log.Append(ctx, t, entry)
		if err != nil {
			return errors.Wrapf(err, "failed to publish %s", evt.EventType)
		}
		p.logger.Debug().
			Str("event_id", evt.ID.String()).
			Str("event_type", evt.EventType).
			Str("topic", t.String()).
			Str("entry_id", id).
			Msg("event published")
	}
	return nil
}

func (p *EventProducer) stamp(evt *events.Event) {
	if evt.ID.IsEmpty() {
		evt.ID = models.GenerateUUID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = models.Now()
	} else {
		evt.Timestamp = evt.Timestamp.UTC()
	}
	if evt.Version == 0 {
		evt.Version = 1
	}
	if evt.Metadata.CorrelationID.IsEmpty() {
		if !evt.Metadata.SagaID.IsEmpty() {
			evt.Metadata.CorrelationID = evt.Metadata.SagaID
		} else {
			evt.Metadata.CorrelationID = evt.ID
		}
	}
	if evt.Metadata.Source == "" {
		evt.Metadata.Source = p.source
	}
}
