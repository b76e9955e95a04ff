package application

import (
	"encoding/json"
	"fmt"

	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// decodeOrder reads the order payload carried by a step request
func decodeOrder(data json.RawMessage) (models.OrderPayload, error) {
	var order models.OrderPayload
	if len(data) == 0 {
		return order, errors.New("order payload is required")
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return order, errors.Wrap(err, "invalid order payload")
	}
	if err := order.Validate(); err != nil {
		return order, err
	}
	return order, nil
}

func succeeded(sagaID models.ID, stepName string, result interface{}, compensationRequired bool) (*saga.StepResult, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s result", stepName)
	}
	return saga.Succeeded(sagaID, stepName, data, compensationRequired), nil
}

func unsupported(sagaID models.ID, stepName, service string) *saga.StepResult {
	return saga.Failed(sagaID, stepName, fmt.Sprintf("step %s is not supported by %s", stepName, service))
}

// nothingToCompensate acknowledges a compensation for a step that left no effect
func nothingToCompensate(req *saga.CompensationRequest) *saga.StepResult {
	return saga.Succeeded(req.SagaID, req.StepName, nil, false)
}
