package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrMissingType    = errors.New("event type is required")
)

const envelopeVersion = 1

// Topic names a stream on the event log
type Topic string

func NewTopic(topic string) (Topic, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

func (t Topic) String() string {
	return string(t)
}

// DeadLetter returns the topic holding entries that exhausted their deliveries
func (t Topic) DeadLetter() Topic {
	return t + ":dlq"
}

// Metadata carries identity, causality and saga correlation for an event
type Metadata struct {
	CorrelationID models.ID `json:"correlationId"`
	CausationID   models.ID `json:"causationId,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	Source        string    `json:"source"`
	SagaID        models.ID `json:"sagaId,omitempty"`
	Step          int       `json:"step,omitempty"`
	TotalSteps    int       `json:"totalSteps,omitempty"`
}

// Event is the immutable envelope written to the event log
type Event struct {
	ID            models.ID       `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// EventHandler handles domain events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventStore archives events for later reconstruction
type EventStore interface {
	SaveEvents(ctx context.Context, events []*Event) error
	GetEventsBySaga(ctx context.Context, sagaID models.ID) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, offset, limit int) ([]*Event, error)
}

// NewEvent creates a new domain event. The payload is serialized immediately;
// a payload that cannot be encoded is an error for the producer.
func NewEvent(aggregateID, aggregateType, eventType string, data interface{}) (*Event, error) {
	if eventType == "" {
		return nil, ErrMissingType
	}

	raw, err := marshalPayload(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s payload", eventType)
	}

	return &Event{
		ID:            models.GenerateUUID(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     models.Now(),
		Version:       envelopeVersion,
		Data:          raw,
	}, nil
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.Metadata.CorrelationID = correlationID
	return e
}

// WithCausation records the event that caused this one and inherits its saga correlation
func (e *Event) WithCausation(cause *Event) *Event {
	if cause == nil {
		return e
	}
	e.Metadata.CausationID = cause.ID
	if e.Metadata.CorrelationID.IsEmpty() {
		e.Metadata.CorrelationID = cause.Metadata.CorrelationID
	}
	if e.Metadata.SagaID.IsEmpty() {
		e.Metadata.SagaID = cause.Metadata.SagaID
	}
	if e.Metadata.TotalSteps == 0 {
		e.Metadata.TotalSteps = cause.Metadata.TotalSteps
	}
	return e
}

// WithSaga tags the event with saga progress
func (e *Event) WithSaga(sagaID models.ID, step, totalSteps int) *Event {
	e.Metadata.SagaID = sagaID
	e.Metadata.Step = step
	e.Metadata.TotalSteps = totalSteps
	return e
}

// WithUser sets the acting user
func (e *Event) WithUser(userID string) *Event {
	e.Metadata.UserID = userID
	return e
}

// ToJSON converts event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event")
	}
	if event.EventType == "" {
		return nil, ErrMissingType
	}
	return &event, nil
}

// UnmarshalPayload unmarshals the event payload into v
func (e *Event) UnmarshalPayload(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return nil
}

// SagaID returns the saga this event belongs to, falling back to the
// aggregate id for events emitted about the saga aggregate itself.
func (e *Event) SagaID() models.ID {
	if !e.Metadata.SagaID.IsEmpty() {
		return e.Metadata.SagaID
	}
	if e.AggregateType == AggregateSaga {
		return models.ID(e.AggregateID)
	}
	return ""
}

func marshalPayload(data interface{}) (json.RawMessage, error) {
	switch d := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(d) {
			return nil, ErrInvalidPayload
		}
		return d, nil
	case []byte:
		if !json.Valid(d) {
			return nil, ErrInvalidPayload
		}
		return d, nil
	default:
		return json.Marshal(data)
	}
}
