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

// undo describes how a completed choreographed step is compensated
type undo struct {
	service       string
	eventType     string
	aggregateType string
}

var undos = map[string]undo{
	events.StepCreateOrder:    {saga.ServiceOrder, events.OrderCancelled, events.AggregateOrder},
	events.StepReserveStock:   {saga.ServiceInventory, events.StockReleased, events.AggregateInventory},
	events.StepProcessPayment: {saga.ServicePayment, events.PaymentRefunded, events.AggregatePayment},
	events.StepConfirmOrder:   {saga.ServiceOrder, events.OrderCancelled, events.AggregateOrder},
}

// CompensateChoreographedSaga undoes the completed steps owned by the local
// participants when the coordinator requests compensation
type CompensateChoreographedSaga struct {
	participants map[string]saga.Participant
	publisher    events.Publisher
	logger       zerolog.Logger
}

// NewCompensateChoreographedSaga creates a new CompensateChoreographedSaga use case
func NewCompensateChoreographedSaga(participants map[string]saga.Participant, publisher events.Publisher, logger zerolog.Logger) *CompensateChoreographedSaga {
	return &CompensateChoreographedSaga{
		participants: participants,
		publisher:    publisher,
		logger:       logger,
	}
}

// Execute executes the compensate choreographed saga use case. Steps are
// undone in the order requested; each participant publishes one compensation
// event even when it owns several completed steps.
func (uc *CompensateChoreographedSaga) Execute(ctx context.Context, event *events.Event) error {
	if event == nil {
		return errors.New("event is required")
	}

	var request events.CompensationRequestedData
	if err := event.UnmarshalPayload(&request); err != nil {
		uc.logger.Warn().Err(err).Str("event_id", event.ID.String()).Msg("malformed compensation request, dropping")
		return nil
	}
	sagaID := models.ID(request.SagaID)
	if sagaID.IsEmpty() {
		sagaID = event.SagaID()
	}

	var payload models.OrderPayload
	if len(request.Order) > 0 {
		_ = json.Unmarshal(request.Order, &payload)
	}

	log := uc.logger.With().Str("saga_id", sagaID.String()).Str("failed_step", request.FailedStep).Logger()

	published := make(map[string]bool)
	for _, stepName := range request.CompletedSteps {
		u, ok := undos[stepName]
		if !ok {
			log.Warn().Str("step", stepName).Msg("no compensation known for step")
			continue
		}
		participant, ok := uc.participants[u.service]
		if !ok {
			continue
		}

		result, err := participant.CompensateStep(ctx, &saga.CompensationRequest{
			SagaID:        sagaID,
			StepName:      stepName,
			OrderID:       payload.OrderID,
			Data:          request.Order,
			CorrelationID: event.Metadata.CorrelationID,
			Reason:        request.Reason,
		})
		if err != nil {
			return errors.Wrapf(err, "%s.Compensate%s", u.service, stepName)
		}
		if result == nil || !result.Success {
			return errors.Errorf("compensation of %s failed: %s", stepName, stepError(result))
		}

		if published[u.eventType] {
			continue
		}
		evt, err := outcomeEvent(event, sagaID, payload.OrderID, u.aggregateType, u.eventType, events.StepOutcomeData{
			OrderID: payload.OrderID,
			Step:    stepName,
			Result:  result.Data,
			Order:   request.Order,
		})
		if err != nil {
			return err
		}
		if err := uc.publisher.Publish(ctx, evt); err != nil {
			return errors.Wrapf(err, "failed to publish %s", u.eventType)
		}
		published[u.eventType] = true
		log.Info().Str("step", stepName).Str("event_type", u.eventType).Msg("step compensated")
	}
	return nil
}
