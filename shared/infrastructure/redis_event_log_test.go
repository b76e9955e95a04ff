package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGroup = "saga-coordinator"

func TestRedisEventLog_AppendReadAck(t *testing.T) {
	_, client := newTestRedis(t)
	log := NewRedisEventLog(client, 0)
	ctx := context.Background()
	topic := events.TopicOrders

	require.NoError(t, log.EnsureGroup(ctx, topic, testGroup))
	require.NoError(t, log.EnsureGroup(ctx, topic, testGroup), "an existing group is not an error")

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id, err := log.Append(ctx, topic, events.LogEntry{EventType: events.OrderCreated, Data: []byte(`{"eventId":"1"}`), Timestamp: ts})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := log.ReadGroup(ctx, testGroup, "c1", []events.Topic{topic}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, topic, entries[0].Topic)
	assert.Equal(t, events.OrderCreated, entries[0].EventType)
	assert.JSONEq(t, `{"eventId":"1"}`, string(entries[0].Data))
	assert.True(t, ts.Equal(entries[0].Timestamp))
	assert.Equal(t, int64(1), entries[0].Deliveries)

	again, err := log.ReadGroup(ctx, testGroup, "c1", []events.Topic{topic}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again, "new entries are delivered once per group")

	require.NoError(t, log.Ack(ctx, topic, testGroup, id))

	pending, err := client.XPending(ctx, topic.String(), testGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestRedisEventLog_ClaimStale(t *testing.T) {
	_, client := newTestRedis(t)
	log := NewRedisEventLog(client, 0)
	ctx := context.Background()
	topic := events.TopicPayments

	require.NoError(t, log.EnsureGroup(ctx, topic, testGroup))
	id, err := log.Append(ctx, topic, events.LogEntry{EventType: events.PaymentProcessed, Data: []byte(`{}`)})
	require.NoError(t, err)

	_, err = log.ReadGroup(ctx, testGroup, "crashed", []events.Topic{topic}, 10, 0)
	require.NoError(t, err)

	none, err := log.ClaimStale(ctx, topic, testGroup, "survivor", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	claimed, err := log.ClaimStale(ctx, topic, testGroup, "survivor", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, int64(2), claimed[0].Deliveries)
	assert.Equal(t, events.PaymentProcessed, claimed[0].EventType)
}

func TestRedisEventLog_DeadLetter(t *testing.T) {
	_, client := newTestRedis(t)
	log := NewRedisEventLog(client, 0)
	ctx := context.Background()

	entry := events.LogEntry{
		ID:         "1-0",
		Topic:      events.TopicInventory,
		EventType:  events.StockReserved,
		Data:       []byte(`{"eventType":"StockReserved"}`),
		Deliveries: 6,
	}
	require.NoError(t, log.DeadLetter(ctx, entry, testGroup, "max deliveries exceeded: 6"))

	msgs, err := client.XRange(ctx, "events:inventory:dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "events:inventory", msgs[0].Values["stream"])
	assert.Equal(t, "1-0", msgs[0].Values["msgId"])
	assert.Equal(t, testGroup, msgs[0].Values["group"])
	assert.Equal(t, `{"eventType":"StockReserved"}`, msgs[0].Values["data"])
}

func TestRedisEventLog_MaxLen(t *testing.T) {
	_, client := newTestRedis(t)
	log := NewRedisEventLog(client, 5)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := log.Append(ctx, events.TopicAll, events.LogEntry{EventType: events.OrderCreated, Data: []byte(`{}`)})
		require.NoError(t, err)
	}

	length, err := client.XLen(ctx, events.TopicAll.String()).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, length, int64(20))
	assert.GreaterOrEqual(t, length, int64(5))
}

func TestToLogEntry_MissingFields(t *testing.T) {
	entry := toLogEntry(events.TopicAll, redis.XMessage{ID: "1-0", Values: map[string]interface{}{}}, 1)
	assert.Equal(t, "1-0", entry.ID)
	assert.Empty(t, entry.Data)
	assert.True(t, entry.Timestamp.IsZero())
}
