package application

import (
	"context"

	"github.com/draftea/saga-system/participant-service/domain"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/rs/zerolog"
)

var _ saga.Participant = (*OrderParticipant)(nil)

// OrderParticipant confirms and cancels orders
type OrderParticipant struct {
	book   *domain.OrderBook
	logger zerolog.Logger
}

// NewOrderParticipant creates a new OrderParticipant
func NewOrderParticipant(book *domain.OrderBook, logger zerolog.Logger) *OrderParticipant {
	return &OrderParticipant{
		book:   book,
		logger: logger.With().Str("participant", saga.ServiceOrder).Logger(),
	}
}

// ExecuteStep runs ConfirmOrder
func (p *OrderParticipant) ExecuteStep(ctx context.Context, req *saga.StepRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepConfirmOrder {
		return unsupported(req.SagaID, req.StepName, saga.ServiceOrder), nil
	}

	order, err := decodeOrder(req.Data)
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	confirmed, err := p.book.Confirm(req.SagaID, order)
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	p.logger.Info().Str("saga_id", req.SagaID.String()).Str("order_id", order.OrderID).Msg("order confirmed")
	return succeeded(req.SagaID, req.StepName, confirmed, true)
}

// CompensateStep cancels the order. Both order creation and confirmation are
// undone by cancelling.
func (p *OrderParticipant) CompensateStep(ctx context.Context, req *saga.CompensationRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepConfirmOrder && req.StepName != events.StepCreateOrder {
		return nothingToCompensate(req), nil
	}

	cancelled := p.book.Cancel(req.SagaID, req.OrderID)

	p.logger.Info().Str("saga_id", req.SagaID.String()).Str("reason", req.Reason).Msg("order cancelled")
	return succeeded(req.SagaID, req.StepName, cancelled, false)
}
