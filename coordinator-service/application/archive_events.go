package application

import (
	"context"

	"github.com/draftea/saga-system/shared/events"
	"github.com/pkg/errors"
)

// ArchiveEvents use case. Saving is idempotent on event id, so redelivered
// events are archived once.
type ArchiveEvents struct {
	archive events.EventStore
}

// NewArchiveEvents creates a new ArchiveEvents use case
func NewArchiveEvents(archive events.EventStore) *ArchiveEvents {
	return &ArchiveEvents{
		archive: archive,
	}
}

// Execute executes the archive events use case
func (uc *ArchiveEvents) Execute(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	if err := uc.archive.SaveEvents(ctx, evts); err != nil {
		return errors.Wrap(err, "failed to archive events")
	}
	return nil
}
