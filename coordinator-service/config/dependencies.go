package config

import (
	"context"
	"fmt"
	"os"

	"github.com/draftea/saga-system/coordinator-service/application"
	"github.com/draftea/saga-system/coordinator-service/handlers"
	"github.com/draftea/saga-system/coordinator-service/infrastructure"
	"github.com/draftea/saga-system/shared/events"
	sharedinfra "github.com/draftea/saga-system/shared/infrastructure"
	"github.com/draftea/saga-system/shared/logger"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Logger zerolog.Logger

	// Infrastructure
	Redis             *redis.Client
	DB                *sqlx.DB
	StateStore        *sharedinfra.RedisStateStore
	EventStore        *sharedinfra.PostgresEventStore
	EventLog          events.EventLog
	EventProducer     *sharedinfra.EventProducer
	RetentionSweeper  *sharedinfra.RetentionSweeper
	Telemetry         *telemetry.Telemetry
	shutdownTelemetry func()

	// Saga coordination
	Participants            map[string]saga.Participant
	Orchestrator            *saga.Orchestrator
	ChoreographyCoordinator *saga.ChoreographyCoordinator

	// Use Cases
	StartOrchestratedSaga  *application.StartOrchestratedSaga
	StartChoreographedSaga *application.StartChoreographedSaga
	GetSaga                *application.GetSaga
	GetSagaStatistics      *application.GetSagaStatistics
	GetSagaHistory         *application.GetSagaHistory
	RebuildSaga            *application.RebuildSaga
	ArchiveEvents          *application.ArchiveEvents

	// HTTP Handlers
	SagaHandlers *handlers.SagaHandlers

	// Event consumers; ArchiveConsumer is nil without a database
	ChoreographyConsumer *sharedinfra.EventConsumer
	ArchiveConsumer      *sharedinfra.EventConsumer
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	logger.SetLevel(config.LogLevel)
	deps := &Dependencies{
		Logger: logger.New(config.ServiceName, os.Stdout),
	}

	// Initialize telemetry
	if config.Telemetry.Enabled {
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telemetry.CoordinatorServiceConfig.
			WithServiceName(config.ServiceName).
			WithOTLPEndpoint(config.Telemetry.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		deps.Telemetry = tel
		deps.shutdownTelemetry = shutdown
	}

	// Initialize redis, which holds saga state for every event log backend
	client, err := sharedinfra.NewRedisClient(ctx, config.Redis)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Redis = client
	deps.StateStore = sharedinfra.NewRedisStateStore(client, config.Saga.Retention, deps.Logger)

	// Initialize event archive
	if config.Database.Enabled {
		db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		deps.DB = db

		deps.EventStore = sharedinfra.NewPostgresEventStore(db, deps.Logger)
		if err := deps.EventStore.Migrate(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to migrate event store: %w", err)
		}
	}

	// Initialize event log
	eventLog, err := sharedinfra.NewEventLog(ctx, config.EventLog, client)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	deps.EventLog = eventLog
	deps.EventProducer = sharedinfra.NewEventProducer(eventLog, config.ServiceName, deps.Logger)

	sweeper, err := sharedinfra.NewRetentionSweeper(deps.StateStore, config.Saga.RetentionSchedule, deps.Logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create retention sweeper: %w", err)
	}
	deps.RetentionSweeper = sweeper

	// Initialize saga coordination
	if len(config.Participants) == 0 {
		deps.Close()
		return nil, fmt.Errorf("no participant endpoints configured")
	}
	deps.Participants = infrastructure.NewHTTPParticipants(config.Participants, config.HTTPClient, deps.Logger)
	deps.Orchestrator = saga.NewOrchestrator(deps.StateStore, deps.Participants, deps.Logger, config.OrchestratorConfig())
	deps.ChoreographyCoordinator = saga.NewChoreographyCoordinator(deps.StateStore, deps.EventProducer, deps.Logger)

	// Initialize use cases
	archive := deps.archive()
	deps.StartOrchestratedSaga = application.NewStartOrchestratedSaga(deps.Orchestrator)
	deps.StartChoreographedSaga = application.NewStartChoreographedSaga(deps.EventProducer)
	deps.GetSaga = application.NewGetSaga(deps.StateStore)
	deps.GetSagaStatistics = application.NewGetSagaStatistics(deps.StateStore)
	deps.GetSagaHistory = application.NewGetSagaHistory(deps.StateStore, archive)
	deps.RebuildSaga = application.NewRebuildSaga(deps.StateStore, archive, deps.Logger)

	// Initialize handlers
	deps.SagaHandlers = handlers.NewSagaHandlers(
		deps.StartOrchestratedSaga,
		deps.StartChoreographedSaga,
		deps.GetSaga,
		deps.GetSagaStatistics,
		deps.GetSagaHistory,
		deps.RebuildSaga,
		deps.Logger,
	)

	if config.Consumer.Enabled {
		consumer, err := sharedinfra.NewEventConsumer(
			eventLog,
			deps.ChoreographyCoordinator,
			config.ConsumerConfig(config.Consumer.Group, []events.Topic{events.TopicAll}),
			deps.Logger,
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create choreography consumer: %w", err)
		}
		deps.ChoreographyConsumer = consumer

		if deps.EventStore != nil {
			deps.ArchiveEvents = application.NewArchiveEvents(deps.EventStore)
			consumer, err := sharedinfra.NewEventConsumer(
				eventLog,
				handlers.NewArchiveEventHandlers(deps.ArchiveEvents),
				config.ConsumerConfig(config.Consumer.ArchiveGroup, handlers.ArchiveEventTopics),
				deps.Logger,
			)
			if err != nil {
				deps.Close()
				return nil, fmt.Errorf("failed to create archive consumer: %w", err)
			}
			deps.ArchiveConsumer = consumer
		}
	}

	return deps, nil
}

// archive returns the event archive as an interface, nil when the database is disabled
func (d *Dependencies) archive() events.EventStore {
	if d.EventStore == nil {
		return nil
	}
	return d.EventStore
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var result *multierror.Error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.shutdownTelemetry != nil {
		d.shutdownTelemetry()
	}

	return result.ErrorOrNil()
}
