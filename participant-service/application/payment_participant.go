package application

import (
	"context"

	"github.com/draftea/saga-system/participant-service/domain"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ saga.Participant = (*PaymentParticipant)(nil)

// PaymentParticipant charges and refunds orders
type PaymentParticipant struct {
	ledger *domain.PaymentLedger
	logger zerolog.Logger
}

// NewPaymentParticipant creates a new PaymentParticipant
func NewPaymentParticipant(ledger *domain.PaymentLedger, logger zerolog.Logger) *PaymentParticipant {
	return &PaymentParticipant{
		ledger: ledger,
		logger: logger.With().Str("participant", saga.ServicePayment).Logger(),
	}
}

// ExecuteStep runs ProcessPayment
func (p *PaymentParticipant) ExecuteStep(ctx context.Context, req *saga.StepRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepProcessPayment {
		return unsupported(req.SagaID, req.StepName, saga.ServicePayment), nil
	}

	order, err := decodeOrder(req.Data)
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}
	total, err := order.Total()
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	charge, err := p.ledger.Charge(req.SagaID, order.OrderID, order.PaymentToken, total)
	if err != nil {
		p.logger.Info().Err(err).Str("saga_id", req.SagaID.String()).Msg("payment failed")
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	p.logger.Info().
		Str("saga_id", req.SagaID.String()).
		Str("charge_id", charge.ID.String()).
		Int64("amount", charge.Amount.Amount).
		Msg("payment processed")
	return succeeded(req.SagaID, req.StepName, charge, true)
}

// CompensateStep refunds the saga's charge
func (p *PaymentParticipant) CompensateStep(ctx context.Context, req *saga.CompensationRequest) (*saga.StepResult, error) {
	if req.StepName != saga.StepProcessPayment {
		return nothingToCompensate(req), nil
	}

	charge, err := p.ledger.Refund(req.SagaID)
	if errors.Is(err, domain.ErrNoCharge) {
		return nothingToCompensate(req), nil
	}
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	p.logger.Info().Str("saga_id", req.SagaID.String()).Str("reason", req.Reason).Msg("payment refunded")
	return succeeded(req.SagaID, req.StepName, charge, false)
}
