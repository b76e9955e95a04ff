package application

import (
	"context"
	"encoding/json"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Reaction is the step a participant runs when the previous step's outcome arrives
type Reaction struct {
	Service       string
	Step          string
	Succeeded     string
	Failed        string
	AggregateType string
}

// Reactions maps each choreography event to the step it triggers
var Reactions = map[string]Reaction{
	events.OrderCreated: {
		Service: saga.ServiceInventory, Step: events.StepReserveStock,
		Succeeded: events.StockReserved, Failed: events.StockReservationFailed,
		AggregateType: events.AggregateInventory,
	},
	events.StockReserved: {
		Service: saga.ServicePayment, Step: events.StepProcessPayment,
		Succeeded: events.PaymentProcessed, Failed: events.PaymentFailed,
		AggregateType: events.AggregatePayment,
	},
	events.PaymentProcessed: {
		Service: saga.ServiceOrder, Step: events.StepConfirmOrder,
		Succeeded: events.OrderConfirmed, Failed: events.OrderConfirmationFailed,
		AggregateType: events.AggregateOrder,
	},
	events.OrderConfirmed: {
		Service: saga.ServiceNotification, Step: events.StepSendNotification,
		Succeeded: events.NotificationSent, Failed: events.NotificationFailed,
		AggregateType: events.AggregateNotification,
	},
}

// ProcessChoreographedStepCommand carries the event that triggers a step
type ProcessChoreographedStepCommand struct {
	Event    *events.Event
	Reaction Reaction
}

// ProcessChoreographedStep runs a participant step in reaction to an event
// and publishes the step outcome
type ProcessChoreographedStep struct {
	participants map[string]saga.Participant
	publisher    events.Publisher
	logger       zerolog.Logger
}

// NewProcessChoreographedStep creates a new ProcessChoreographedStep use case
func NewProcessChoreographedStep(participants map[string]saga.Participant, publisher events.Publisher, logger zerolog.Logger) *ProcessChoreographedStep {
	return &ProcessChoreographedStep{
		participants: participants,
		publisher:    publisher,
		logger:       logger,
	}
}

// Execute executes the process choreographed step use case. Transport and
// publish failures are returned so the triggering event is redelivered.
func (uc *ProcessChoreographedStep) Execute(ctx context.Context, cmd *ProcessChoreographedStepCommand) error {
	if cmd == nil || cmd.Event == nil {
		return errors.New("event is required")
	}
	event, reaction := cmd.Event, cmd.Reaction

	participant, ok := uc.participants[reaction.Service]
	if !ok {
		return nil
	}

	log := uc.logger.With().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("step", reaction.Step).
		Logger()

	sagaID := event.SagaID()
	if sagaID.IsEmpty() {
		log.Warn().Msg("event without saga id, dropping")
		return nil
	}

	order, err := orderFromEvent(event)
	if err != nil {
		log.Warn().Err(err).Msg("event without order payload, dropping")
		return nil
	}
	var payload models.OrderPayload
	_ = json.Unmarshal(order, &payload)

	result, err := participant.ExecuteStep(ctx, &saga.StepRequest{
		SagaID:        sagaID,
		StepName:      reaction.Step,
		OrderID:       payload.OrderID,
		Data:          order,
		CorrelationID: event.Metadata.CorrelationID,
	})
	if err != nil {
		return errors.Wrapf(err, "%s.%s", reaction.Service, reaction.Step)
	}

	eventType := reaction.Succeeded
	outcome := events.StepOutcomeData{
		OrderID: payload.OrderID,
		Step:    reaction.Step,
		Order:   order,
	}
	if result == nil || !result.Success {
		eventType = reaction.Failed
		outcome.ErrorMessage = stepError(result)
	} else {
		outcome.Result = result.Data
	}

	evt, err := outcomeEvent(event, sagaID, payload.OrderID, reaction.AggregateType, eventType, outcome)
	if err != nil {
		return err
	}
	if err := uc.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrapf(err, "failed to publish %s", eventType)
	}

	log.Info().Str("saga_id", sagaID.String()).Str("outcome", eventType).Msg("choreographed step processed")
	return nil
}

// orderFromEvent extracts the order payload from an initiation or step outcome event
func orderFromEvent(event *events.Event) (json.RawMessage, error) {
	if event.EventType == events.OrderCreated {
		if len(event.Data) == 0 {
			return nil, events.ErrInvalidPayload
		}
		return event.Data, nil
	}

	var outcome events.StepOutcomeData
	if err := event.UnmarshalPayload(&outcome); err != nil {
		return nil, err
	}
	if len(outcome.Order) == 0 {
		return nil, events.ErrInvalidPayload
	}
	return outcome.Order, nil
}

// outcomeEvent builds a step outcome event. Its id derives from the saga and
// event type so a redelivered trigger republishes the same event.
func outcomeEvent(cause *events.Event, sagaID models.ID, orderID, aggregateType, eventType string, data interface{}) (*events.Event, error) {
	evt, err := events.NewEvent(orderID, aggregateType, eventType, data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s", eventType)
	}
	evt.ID = models.DeterministicID(sagaID.String(), eventType)
	evt.WithCausation(cause).WithSaga(sagaID, stepNumber(events.Describe(eventType).Steps), len(events.ChoreographySteps))
	return evt, nil
}

func stepNumber(steps []string) int {
	if len(steps) == 0 {
		return 0
	}
	for i, name := range events.ChoreographySteps {
		if name == steps[0] {
			return i + 1
		}
	}
	return 0
}

func stepError(result *saga.StepResult) string {
	if result == nil {
		return "participant returned no result"
	}
	if result.ErrorMessage == "" {
		return "step failed"
	}
	return result.ErrorMessage
}
