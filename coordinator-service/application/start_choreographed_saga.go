package application

import (
	"context"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// StartChoreographedSagaResponse represents the response for starting a choreographed saga
type StartChoreographedSagaResponse struct {
	SagaID  string `json:"sagaId"`
	EventID string `json:"eventId"`
	Mode    string `json:"mode"`
}

// StartChoreographedSaga use case. It only publishes OrderCreated; the
// coordinator's consumer picks it up and tracks the saga from there.
type StartChoreographedSaga struct {
	publisher events.Publisher
}

// NewStartChoreographedSaga creates a new StartChoreographedSaga use case
func NewStartChoreographedSaga(publisher events.Publisher) *StartChoreographedSaga {
	return &StartChoreographedSaga{
		publisher: publisher,
	}
}

// Execute executes the start choreographed saga use case
func (uc *StartChoreographedSaga) Execute(ctx context.Context, cmd *StartSagaCommand) (*StartChoreographedSagaResponse, error) {
	sagaID, correlationID, err := cmd.validate()
	if err != nil {
		return nil, err
	}
	if sagaID.IsEmpty() {
		sagaID = models.GenerateUUID()
	}

	event, err := events.NewEvent(cmd.Order.OrderID, events.AggregateOrder, events.OrderCreated, cmd.Order)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order created event")
	}
	event.WithSaga(sagaID, 1, len(events.ChoreographySteps)).
		WithUser(cmd.Order.CustomerID).
		WithCorrelationID(correlationID)

	if err := uc.publisher.Publish(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to publish order created event")
	}

	return &StartChoreographedSagaResponse{
		SagaID:  sagaID.String(),
		EventID: event.ID.String(),
		Mode:    saga.ModeChoreographed,
	}, nil
}
