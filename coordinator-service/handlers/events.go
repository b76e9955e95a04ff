package handlers

import (
	"context"

	"github.com/draftea/saga-system/coordinator-service/application"
	"github.com/draftea/saga-system/shared/events"
)

// ArchiveEventTopics lists the topics copied into the event archive
var ArchiveEventTopics = []events.Topic{events.TopicAll}

// ArchiveEventHandlers copies every event into the durable archive so
// choreographed sagas can be rebuilt after their state expires
type ArchiveEventHandlers struct {
	archiveEvents *application.ArchiveEvents
}

// NewArchiveEventHandlers creates new archive event handlers
func NewArchiveEventHandlers(archiveEvents *application.ArchiveEvents) *ArchiveEventHandlers {
	return &ArchiveEventHandlers{
		archiveEvents: archiveEvents,
	}
}

// Handle implements the events.EventHandler interface
func (h *ArchiveEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	return h.archiveEvents.Execute(ctx, event)
}

// HandlerID returns the unique identifier for this event handler
func (h *ArchiveEventHandlers) HandlerID() string {
	return "saga-archive-event-handler"
}
