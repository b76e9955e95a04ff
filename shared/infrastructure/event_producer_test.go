package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingLog fails every append to the named topic
type failingLog struct {
	events.EventLog
	failOn   events.Topic
	appended []events.Topic
}

func (l *failingLog) Append(_ context.Context, topic events.Topic, _ events.LogEntry) (string, error) {
	if topic == l.failOn {
		return "", errors.New("log unavailable")
	}
	l.appended = append(l.appended, topic)
	return "1-0", nil
}

func TestEventProducer_Publish(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		topic     events.Topic
	}{
		{"initiation goes to orders", events.OrderCreated, events.TopicOrders},
		{"payment outcome goes to payments", events.PaymentFailed, events.TopicPayments},
		{"compensation command goes to saga", events.SagaCompensationRequested, events.TopicSaga},
		{"unmapped type goes to the default topic", "CustomerAudited", events.TopicDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestRedis(t)
			producer := NewEventProducer(NewRedisEventLog(client, 0), "coordinator-service", zerolog.Nop())
			ctx := context.Background()

			evt, err := events.NewEvent("order-1", events.AggregateOrder, tt.eventType, map[string]string{"orderId": "order-1"})
			require.NoError(t, err)
			require.NoError(t, producer.Publish(ctx, evt))

			for _, topic := range []events.Topic{tt.topic, events.TopicAll} {
				msgs, err := client.XRange(ctx, topic.String(), "-", "+").Result()
				require.NoError(t, err)
				require.Len(t, msgs, 1, topic)
				assert.Equal(t, tt.eventType, msgs[0].Values["eventType"])

				decoded, err := events.FromJSON([]byte(msgs[0].Values["data"].(string)))
				require.NoError(t, err)
				assert.Equal(t, evt.ID, decoded.ID)
				assert.Equal(t, "coordinator-service", decoded.Metadata.Source)
				assert.Equal(t, evt.ID, decoded.Metadata.CorrelationID)
			}
		})
	}
}

func TestEventProducer_Stamp(t *testing.T) {
	producer := NewEventProducer(&failingLog{}, "participant-service", zerolog.Nop())
	sagaID := models.GenerateUUID()
	local := time.Date(2024, 3, 1, 7, 0, 0, 0, time.FixedZone("ART", -3*3600))

	evt := &events.Event{EventType: events.StockReserved, Timestamp: local}
	evt.WithSaga(sagaID, 2, 5)
	evt.Metadata.Source = "inventory"

	require.NoError(t, producer.Publish(context.Background(), evt))
	assert.False(t, evt.ID.IsEmpty())
	assert.Equal(t, time.UTC, evt.Timestamp.Location())
	assert.True(t, local.Equal(evt.Timestamp))
	assert.Equal(t, sagaID, evt.Metadata.CorrelationID)
	assert.Equal(t, "inventory", evt.Metadata.Source)
	assert.Equal(t, 1, evt.Version)
}

func TestEventProducer_AppendFailurePropagates(t *testing.T) {
	tests := []struct {
		name     string
		failOn   events.Topic
		appended []events.Topic
	}{
		{"type topic fails", events.TopicInventory, nil},
		{"catch-all fails", events.TopicAll, []events.Topic{events.TopicInventory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &failingLog{failOn: tt.failOn}
			producer := NewEventProducer(log, "test", zerolog.Nop())

			first, err := events.NewEvent("order-1", events.AggregateInventory, events.StockReserved, nil)
			require.NoError(t, err)
			second, err := events.NewEvent("order-1", events.AggregateInventory, events.StockReleased, nil)
			require.NoError(t, err)

			err = producer.Publish(context.Background(), first, second)
			require.Error(t, err)
			assert.Equal(t, tt.appended, log.appended, "publishing stops at the first failure")
		})
	}
}

func TestEventProducer_RejectsUntypedEvent(t *testing.T) {
	producer := NewEventProducer(&failingLog{}, "test", zerolog.Nop())
	err := producer.Publish(context.Background(), &events.Event{})
	assert.True(t, errors.Is(err, events.ErrMissingType))
}
