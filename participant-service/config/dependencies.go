package config

import (
	"context"
	"fmt"
	"os"

	"github.com/draftea/saga-system/participant-service/application"
	"github.com/draftea/saga-system/participant-service/domain"
	"github.com/draftea/saga-system/participant-service/handlers"
	"github.com/draftea/saga-system/shared/events"
	sharedinfra "github.com/draftea/saga-system/shared/infrastructure"
	"github.com/draftea/saga-system/shared/logger"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Logger zerolog.Logger

	// Infrastructure
	Redis             *redis.Client
	EventLog          events.EventLog
	EventProducer     *sharedinfra.EventProducer
	EventConsumer     *sharedinfra.EventConsumer
	Telemetry         *telemetry.Telemetry
	shutdownTelemetry func()

	// Domain
	Inventory *domain.Inventory
	Ledger    *domain.PaymentLedger
	OrderBook *domain.OrderBook
	Notifier  *domain.Notifier

	// Participants hosted by this process, keyed by service name
	Participants map[string]saga.Participant

	// Use Cases
	ProcessChoreographedStep    *application.ProcessChoreographedStep
	CompensateChoreographedSaga *application.CompensateChoreographedSaga

	// HTTP Handlers
	ParticipantHandlers *handlers.ParticipantHandlers

	// Event Handlers
	ParticipantEventHandlers *handlers.ParticipantEventHandlers
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	logger.SetLevel(config.LogLevel)
	deps := &Dependencies{
		Logger: logger.New(config.ServiceName, os.Stdout),
	}

	// Initialize telemetry
	if config.Telemetry.Enabled {
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telemetry.ParticipantServiceConfig.
			WithServiceName(config.ServiceName).
			WithOTLPEndpoint(config.Telemetry.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		deps.Telemetry = tel
		deps.shutdownTelemetry = shutdown
	}

	// Initialize event log
	if config.EventLog.Backend == "" || config.EventLog.Backend == sharedinfra.EventLogRedis {
		client, err := sharedinfra.NewRedisClient(ctx, config.Redis)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Redis = client
	}

	eventLog, err := sharedinfra.NewEventLog(ctx, config.EventLog, deps.Redis)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	deps.EventLog = eventLog
	deps.EventProducer = sharedinfra.NewEventProducer(eventLog, config.ServiceName, deps.Logger)

	// Initialize domain
	deps.Inventory = domain.NewInventory(config.Stock)
	deps.Ledger = domain.NewPaymentLedger()
	deps.OrderBook = domain.NewOrderBook()
	deps.Notifier = domain.NewNotifier()

	participants, err := deps.participants(config.Services)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Participants = participants

	// Initialize use cases
	deps.ProcessChoreographedStep = application.NewProcessChoreographedStep(participants, deps.EventProducer, deps.Logger)
	deps.CompensateChoreographedSaga = application.NewCompensateChoreographedSaga(participants, deps.EventProducer, deps.Logger)

	// Initialize handlers
	deps.ParticipantHandlers = handlers.NewParticipantHandlers(participants, deps.Logger)
	deps.ParticipantEventHandlers = handlers.NewParticipantEventHandlers(
		deps.ProcessChoreographedStep,
		deps.CompensateChoreographedSaga,
	)

	if config.Consumer.Enabled {
		consumer, err := sharedinfra.NewEventConsumer(
			eventLog,
			deps.ParticipantEventHandlers,
			config.ConsumerConfig(handlers.ParticipantEventTopics),
			deps.Logger,
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		deps.EventConsumer = consumer
	}

	return deps, nil
}

func (d *Dependencies) participants(services []string) (map[string]saga.Participant, error) {
	participants := make(map[string]saga.Participant, len(services))
	for _, service := range services {
		switch service {
		case saga.ServiceInventory:
			participants[service] = application.NewInventoryParticipant(d.Inventory, d.Logger)
		case saga.ServicePayment:
			participants[service] = application.NewPaymentParticipant(d.Ledger, d.Logger)
		case saga.ServiceOrder:
			participants[service] = application.NewOrderParticipant(d.OrderBook, d.Logger)
		case saga.ServiceNotification:
			participants[service] = application.NewNotificationParticipant(d.Notifier, d.Logger)
		default:
			return nil, fmt.Errorf("unknown participant service %q", service)
		}
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("no participant services configured")
	}
	return participants, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var result *multierror.Error

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
