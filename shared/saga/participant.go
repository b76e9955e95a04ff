package saga

import (
	"context"
	"encoding/json"

	"github.com/draftea/saga-system/shared/models"
)

// StepRequest asks a participant to execute a forward step
type StepRequest struct {
	SagaID        models.ID       `json:"sagaId"`
	StepName      string          `json:"stepName"`
	OrderID       string          `json:"orderId"`
	Data          json.RawMessage `json:"data"`
	CorrelationID models.ID       `json:"correlationId"`
}

// StepResult is a participant's answer to a step or compensation request
type StepResult struct {
	SagaID               models.ID       `json:"sagaId"`
	StepName             string          `json:"stepName"`
	Success              bool            `json:"success"`
	Data                 json.RawMessage `json:"data,omitempty"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	CompensationRequired bool            `json:"compensationRequired,omitempty"`
}

// CompensationRequest asks a participant to undo a step
type CompensationRequest struct {
	SagaID        models.ID       `json:"sagaId"`
	StepName      string          `json:"stepName"`
	OrderID       string          `json:"orderId"`
	Data          json.RawMessage `json:"data"`
	CorrelationID models.ID       `json:"correlationId"`
	Reason        string          `json:"reason"`
}

// Participant owns one or more saga steps.
// A returned error is a transport failure; business failures are reported
// through StepResult.Success. Unsupported step names yield a failed result.
// CompensateStep must be a successful no-op for steps that never completed.
type Participant interface {
	ExecuteStep(ctx context.Context, req *StepRequest) (*StepResult, error)
	CompensateStep(ctx context.Context, req *CompensationRequest) (*StepResult, error)
}

// Failed builds a structured failure result
func Failed(sagaID models.ID, stepName, message string) *StepResult {
	return &StepResult{
		SagaID:       sagaID,
		StepName:     stepName,
		Success:      false,
		ErrorMessage: message,
	}
}

// Succeeded builds a success result
func Succeeded(sagaID models.ID, stepName string, data json.RawMessage, compensationRequired bool) *StepResult {
	return &StepResult{
		SagaID:               sagaID,
		StepName:             stepName,
		Success:              true,
		Data:                 data,
		CompensationRequired: compensationRequired,
	}
}
