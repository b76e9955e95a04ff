package application

import (
	"context"

	"github.com/draftea/saga-system/participant-service/domain"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ saga.Participant = (*InventoryParticipant)(nil)

// StockResult is returned by inventory steps
type StockResult struct {
	OrderID string             `json:"orderId"`
	Items   []models.OrderItem `json:"items"`
}

// InventoryParticipant verifies and reserves stock
type InventoryParticipant struct {
	inventory *domain.Inventory
	logger    zerolog.Logger
}

// NewInventoryParticipant creates a new InventoryParticipant
func NewInventoryParticipant(inventory *domain.Inventory, logger zerolog.Logger) *InventoryParticipant {
	return &InventoryParticipant{
		inventory: inventory,
		logger:    logger.With().Str("participant", saga.ServiceInventory).Logger(),
	}
}

// ExecuteStep runs VerifyStock or ReserveStock
func (p *InventoryParticipant) ExecuteStep(ctx context.Context, req *saga.StepRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepVerifyStock && req.StepName != saga.StepReserveStock {
		return unsupported(req.SagaID, req.StepName, saga.ServiceInventory), nil
	}

	order, err := decodeOrder(req.Data)
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}
	log := p.logger.With().Str("saga_id", req.SagaID.String()).Str("step", req.StepName).Logger()

	switch req.StepName {
	case saga.StepVerifyStock:
		if err := p.inventory.Check(order.Items); err != nil {
			log.Info().Err(err).Msg("stock verification failed")
			return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
		}
		return succeeded(req.SagaID, req.StepName, StockResult{OrderID: order.OrderID, Items: order.Items}, false)
	default:
		if err := p.inventory.Reserve(req.SagaID, order.Items); err != nil {
			log.Info().Err(err).Msg("stock reservation failed")
			return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
		}
		log.Info().Msg("stock reserved")
		return succeeded(req.SagaID, req.StepName, StockResult{OrderID: order.OrderID, Items: order.Items}, true)
	}
}

// CompensateStep releases a reservation
func (p *InventoryParticipant) CompensateStep(ctx context.Context, req *saga.CompensationRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepReserveStock {
		return nothingToCompensate(req), nil
	}

	err := p.inventory.Release(req.SagaID)
	if errors.Is(err, domain.ErrNoReservation) {
		return nothingToCompensate(req), nil
	}
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	p.logger.Info().Str("saga_id", req.SagaID.String()).Str("reason", req.Reason).Msg("stock released")
	return saga.Succeeded(req.SagaID, req.StepName, nil, false), nil
}
