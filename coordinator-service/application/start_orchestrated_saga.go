package application

import (
	"context"
	"encoding/json"

	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// SagaExecutor runs a saga definition to a terminal status
type SagaExecutor interface {
	Execute(ctx context.Context, def saga.Definition, req saga.StartRequest) (*saga.Run, error)
}

// StartSagaCommand represents the command to start an order saga
type StartSagaCommand struct {
	SagaID        string              `json:"sagaId,omitempty"`
	CorrelationID string              `json:"correlationId,omitempty"`
	Order         models.OrderPayload `json:"order"`
}

func (cmd *StartSagaCommand) validate() (sagaID, correlationID models.ID, err error) {
	if err := cmd.Order.Validate(); err != nil {
		return "", "", invalid(err)
	}
	if cmd.SagaID != "" {
		if sagaID, err = models.NewID(cmd.SagaID); err != nil {
			return "", "", invalid(errors.Wrap(err, "invalid saga ID"))
		}
	}
	if cmd.CorrelationID != "" {
		if correlationID, err = models.NewID(cmd.CorrelationID); err != nil {
			return "", "", invalid(errors.Wrap(err, "invalid correlation ID"))
		}
	}
	return sagaID, correlationID, nil
}

// StartOrchestratedSaga use case
type StartOrchestratedSaga struct {
	executor SagaExecutor
}

// NewStartOrchestratedSaga creates a new StartOrchestratedSaga use case
func NewStartOrchestratedSaga(executor SagaExecutor) *StartOrchestratedSaga {
	return &StartOrchestratedSaga{
		executor: executor,
	}
}

// Execute runs the order saga and returns its terminal view. A failed or
// compensated saga is a result, not an error.
func (uc *StartOrchestratedSaga) Execute(ctx context.Context, cmd *StartSagaCommand) (*saga.View, error) {
	sagaID, correlationID, err := cmd.validate()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cmd.Order)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode order")
	}

	run, err := uc.executor.Execute(ctx, saga.OrderProcessing, saga.StartRequest{
		SagaID:        sagaID,
		OrderID:       cmd.Order.OrderID,
		CorrelationID: correlationID,
		Data:          data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to run saga")
	}

	return saga.ViewOfRun(run), nil
}
