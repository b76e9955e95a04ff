package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldEventType = "eventType"
	fieldData      = "data"
	fieldTimestamp = "timestamp"
)

var _ events.EventLog = (*RedisEventLog)(nil)

// RedisEventLog implements the event log with Redis Streams, one stream per topic
type RedisEventLog struct {
	client *redis.Client
	// maxLen approximately caps each stream; zero keeps everything
	maxLen int64
}

// NewRedisEventLog creates a stream backed event log
func NewRedisEventLog(client *redis.Client, maxLen int64) *RedisEventLog {
	return &RedisEventLog{client: client, maxLen: maxLen}
}

// Append adds the entry with fields eventType, data and timestamp
func (l *RedisEventLog) Append(ctx context.Context, topic events.Topic, entry events.LogEntry) (string, error) {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: topic.String(),
		Values: map[string]interface{}{
			fieldEventType: entry.EventType,
			fieldData:      string(entry.Data),
			fieldTimestamp: ts.UTC().Format(time.RFC3339Nano),
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}

	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to append %s to %s", entry.EventType, topic)
	}
	return id, nil
}

// EnsureGroup creates the group at the start of the stream, creating the stream if needed
func (l *RedisEventLog) EnsureGroup(ctx context.Context, topic events.Topic, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, topic.String(), group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "failed to create group %s on %s", group, topic)
	}
	return nil
}

// ReadGroup reads new entries. A non-positive block returns immediately.
func (l *RedisEventLog) ReadGroup(ctx context.Context, group, consumer string, topics []events.Topic, count int64, block time.Duration) ([]events.LogEntry, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	streams := make([]string, 0, len(topics)*2)
	for _, t := range topics {
		streams = append(streams, t.String())
	}
	for range topics {
		streams = append(streams, ">")
	}

	if block <= 0 {
		block = -1
	}

	results, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "xreadgroup failed")
	}

	var entries []events.LogEntry
	for _, stream := range results {
		for _, msg := range stream.Messages {
			entries = append(entries, toLogEntry(events.Topic(stream.Stream), msg, 1))
		}
	}
	return entries, nil
}

// ClaimStale claims entries pending on the group for at least minIdle
func (l *RedisEventLog) ClaimStale(ctx context.Context, topic events.Topic, group, consumer string, minIdle time.Duration, count int64) ([]events.LogEntry, error) {
	pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: topic.String(),
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "xpending failed on %s", topic)
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		if p.Idle < minIdle {
			continue
		}
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount + 1
	}
	if len(ids) == 0 {
		return nil, nil
	}

	messages, err := l.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   topic.String(),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "xclaim failed on %s", topic)
	}

	entries := make([]events.LogEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, toLogEntry(topic, msg, deliveries[msg.ID]))
	}
	return entries, nil
}

// Ack acknowledges entries for the group
func (l *RedisEventLog) Ack(ctx context.Context, topic events.Topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, topic.String(), group, ids...).Err(); err != nil {
		return errors.Wrapf(err, "xack failed on %s", topic)
	}
	return nil
}

// DeadLetter copies the entry to the topic's dead letter stream
func (l *RedisEventLog) DeadLetter(ctx context.Context, entry events.LogEntry, group, reason string) error {
	_, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: entry.Topic.DeadLetter().String(),
		Values: map[string]interface{}{
			"stream":       entry.Topic.String(),
			"msgId":        entry.ID,
			"group":        group,
			"reason":       reason,
			"deliveries":   entry.Deliveries,
			fieldEventType: entry.EventType,
			fieldData:      string(entry.Data),
			fieldTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to dead letter %s", entry.ID)
	}
	return nil
}

func toLogEntry(topic events.Topic, msg redis.XMessage, deliveries int64) events.LogEntry {
	entry := events.LogEntry{
		ID:         msg.ID,
		Topic:      topic,
		EventType:  stringValue(msg.Values[fieldEventType]),
		Deliveries: deliveries,
	}
	if data, ok := msg.Values[fieldData].(string); ok {
		entry.Data = []byte(data)
	}
	if ts, err := time.Parse(time.RFC3339Nano, stringValue(msg.Values[fieldTimestamp])); err == nil {
		entry.Timestamp = ts
	}
	return entry
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
