package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ events.EventStore = (*PostgresEventStore)(nil)

// EventStreamSchema creates the archive table
const EventStreamSchema = `
CREATE TABLE IF NOT EXISTS event_stream (
	id             UUID PRIMARY KEY,
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	saga_id        TEXT        NOT NULL DEFAULT '',
	correlation_id TEXT        NOT NULL DEFAULT '',
	version        INT         NOT NULL,
	data           JSONB       NOT NULL,
	metadata       JSONB       NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS event_stream_saga_idx ON event_stream (saga_id, timestamp);
CREATE INDEX IF NOT EXISTS event_stream_type_idx ON event_stream (event_type, timestamp);`

// PostgresEventStore archives events in PostgreSQL
type PostgresEventStore struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewPostgresEventStore creates a new PostgresEventStore
func NewPostgresEventStore(db *sqlx.DB, logger zerolog.Logger) *PostgresEventStore {
	return &PostgresEventStore{
		db:     db,
		logger: logger.With().Str("component", "postgres_event_store").Logger(),
	}
}

// Migrate creates the archive table if missing
func (es *PostgresEventStore) Migrate(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, EventStreamSchema); err != nil {
		return errors.Wrap(err, "failed to create event_stream table")
	}
	return nil
}

// postgresEvent represents event in database
type postgresEvent struct {
	ID            string    `db:"id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	SagaID        string    `db:"saga_id"`
	CorrelationID string    `db:"correlation_id"`
	Version       int       `db:"version"`
	Data          []byte    `db:"data"`
	Metadata      []byte    `db:"metadata"`
	Timestamp     time.Time `db:"timestamp"`
}

const selectEvents = `
	SELECT id, aggregate_id, aggregate_type, event_type, saga_id, correlation_id,
		   version, data, metadata, timestamp
	FROM event_stream`

// SaveEvents archives events; an event already archived is left untouched
func (es *PostgresEventStore) SaveEvents(ctx context.Context, evts []*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO event_stream (
			id, aggregate_id, aggregate_type, event_type, saga_id, correlation_id,
			version, data, metadata, timestamp
		) VALUES (
			:id, :aggregate_id, :aggregate_type, :event_type, :saga_id, :correlation_id,
			:version, :data, :metadata, :timestamp
		)
		ON CONFLICT (id) DO NOTHING`

	for _, event := range evts {
		pgEvent, err := es.toPostgres(event)
		if err != nil {
			return errors.Wrap(err, "failed to convert event")
		}

		if _, err := tx.NamedExecContext(ctx, query, pgEvent); err != nil {
			return errors.Wrapf(err, "failed to insert event %s", event.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit events")
}

// GetEventsBySaga returns every archived event of a saga in timestamp order
func (es *PostgresEventStore) GetEventsBySaga(ctx context.Context, sagaID models.ID) ([]*events.Event, error) {
	var rows []postgresEvent
	err := es.db.SelectContext(ctx, &rows, selectEvents+`
		WHERE saga_id = $1
		ORDER BY timestamp ASC`, sagaID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events by saga")
	}
	return es.toDomainAll(rows), nil
}

// GetEventsByType retrieves events by type with pagination
func (es *PostgresEventStore) GetEventsByType(ctx context.Context, eventType string, offset, limit int) ([]*events.Event, error) {
	var rows []postgresEvent
	err := es.db.SelectContext(ctx, &rows, selectEvents+`
		WHERE event_type = $1
		ORDER BY timestamp ASC
		LIMIT $2 OFFSET $3`, eventType, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events by type")
	}
	return es.toDomainAll(rows), nil
}

// toDomainAll drops rows that no longer decode, logging each one
func (es *PostgresEventStore) toDomainAll(rows []postgresEvent) []*events.Event {
	result := make([]*events.Event, 0, len(rows))
	for i := range rows {
		event, err := es.toDomain(&rows[i])
		if err != nil {
			es.logger.Warn().Err(err).Str("event_id", rows[i].ID).Msg("skipping undecodable archived event")
			continue
		}
		result = append(result, event)
	}
	return result
}

func (es *PostgresEventStore) toPostgres(event *events.Event) (*postgresEvent, error) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	data := []byte(event.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	return &postgresEvent{
		ID:            event.ID.String(),
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		SagaID:        event.SagaID().String(),
		CorrelationID: event.Metadata.CorrelationID.String(),
		Version:       event.Version,
		Data:          data,
		Metadata:      metadata,
		Timestamp:     event.Timestamp.UTC(),
	}, nil
}

func (es *PostgresEventStore) toDomain(pgEvent *postgresEvent) (*events.Event, error) {
	id, err := models.NewID(pgEvent.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid event ID")
	}

	if !json.Valid(pgEvent.Data) {
		return nil, errors.Wrap(events.ErrInvalidPayload, "archived data is not JSON")
	}

	var metadata events.Metadata
	if err := json.Unmarshal(pgEvent.Metadata, &metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event metadata")
	}

	return &events.Event{
		ID:            id,
		EventType:     pgEvent.EventType,
		AggregateID:   pgEvent.AggregateID,
		AggregateType: pgEvent.AggregateType,
		Timestamp:     pgEvent.Timestamp.UTC(),
		Version:       pgEvent.Version,
		Data:          json.RawMessage(pgEvent.Data),
		Metadata:      metadata,
	}, nil
}
