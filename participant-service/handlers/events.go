package handlers

import (
	"context"

	"github.com/draftea/saga-system/participant-service/application"
	"github.com/draftea/saga-system/shared/events"
)

// ParticipantEventTopics lists the topics participants react to
var ParticipantEventTopics = []events.Topic{
	events.TopicOrders,
	events.TopicInventory,
	events.TopicPayments,
	events.TopicSaga,
}

// ParticipantEventHandlers runs choreographed steps in reaction to saga events
type ParticipantEventHandlers struct {
	processStep *application.ProcessChoreographedStep
	compensate  *application.CompensateChoreographedSaga
}

// NewParticipantEventHandlers creates new participant event handlers
func NewParticipantEventHandlers(
	processStep *application.ProcessChoreographedStep,
	compensate *application.CompensateChoreographedSaga,
) *ParticipantEventHandlers {
	return &ParticipantEventHandlers{
		processStep: processStep,
		compensate:  compensate,
	}
}

// Handle implements the events.EventHandler interface
func (h *ParticipantEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	if event.EventType == events.SagaCompensationRequested {
		return h.compensate.Execute(ctx, event)
	}

	reaction, ok := application.Reactions[event.EventType]
	if !ok {
		// not a trigger for any step, ignore
		return nil
	}
	return h.processStep.Execute(ctx, &application.ProcessChoreographedStepCommand{
		Event:    event,
		Reaction: reaction,
	})
}

// HandlerID returns the unique identifier for this event handler
func (h *ParticipantEventHandlers) HandlerID() string {
	return "participant-service-event-handler"
}
