package events

import (
	"context"
	"time"
)

// LogEntry is a single record on the event log
type LogEntry struct {
	ID        string
	Topic     Topic
	EventType string
	// Data holds the serialized envelope
	Data      []byte
	Timestamp time.Time
	// Deliveries counts how many times the entry was handed to a consumer of the group
	Deliveries int64
}

// EventLog is an ordered, durable, append-only stream with named consumer groups
type EventLog interface {
	// Append writes an entry and returns the id assigned by the log
	Append(ctx context.Context, topic Topic, entry LogEntry) (string, error)
	// EnsureGroup creates the consumer group if absent; an existing group is not an error
	EnsureGroup(ctx context.Context, topic Topic, group string) error
	// ReadGroup returns entries never delivered to the group, blocking up to block
	ReadGroup(ctx context.Context, group, consumer string, topics []Topic, count int64, block time.Duration) ([]LogEntry, error)
	// ClaimStale takes over entries delivered to the group but unacknowledged for at least minIdle
	ClaimStale(ctx context.Context, topic Topic, group, consumer string, minIdle time.Duration, count int64) ([]LogEntry, error)
	// Ack marks entries as processed by the group
	Ack(ctx context.Context, topic Topic, group string, ids ...string) error
	// DeadLetter parks an entry that exceeded its delivery budget
	DeadLetter(ctx context.Context, entry LogEntry, group, reason string) error
}
