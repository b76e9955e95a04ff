package application

import (
	"context"
	"fmt"

	"github.com/draftea/saga-system/participant-service/domain"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/rs/zerolog"
)

var _ saga.Participant = (*NotificationParticipant)(nil)

// NotificationParticipant tells the customer their order went through
type NotificationParticipant struct {
	notifier *domain.Notifier
	logger   zerolog.Logger
}

// NewNotificationParticipant creates a new NotificationParticipant
func NewNotificationParticipant(notifier *domain.Notifier, logger zerolog.Logger) *NotificationParticipant {
	return &NotificationParticipant{
		notifier: notifier,
		logger:   logger.With().Str("participant", saga.ServiceNotification).Logger(),
	}
}

// ExecuteStep runs SendNotification
func (p *NotificationParticipant) ExecuteStep(ctx context.Context, req *saga.StepRequest) (*saga.StepResult, error) {
	if req.StepName != events.StepSendNotification {
		return unsupported(req.SagaID, req.StepName, saga.ServiceNotification), nil
	}

	order, err := decodeOrder(req.Data)
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	notification, err := p.notifier.Send(req.SagaID, order.Email, fmt.Sprintf("Your order %s is confirmed", order.OrderID))
	if err != nil {
		return saga.Failed(req.SagaID, req.StepName, err.Error()), nil
	}

	p.logger.Info().Str("saga_id", req.SagaID.String()).Msg("notification sent")
	return succeeded(req.SagaID, req.StepName, notification, false)
}

// CompensateStep is a no-op: a sent notification cannot be recalled
func (p *NotificationParticipant) CompensateStep(ctx context.Context, req *saga.CompensationRequest) (*saga.StepResult, error) {
	return nothingToCompensate(req), nil
}
