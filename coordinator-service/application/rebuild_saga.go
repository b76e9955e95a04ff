package application

import (
	"context"

	"github.com/avast/retry-go/v4"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RebuildSaga use case. It reconstructs a choreographed saga from the event
// archive and overwrites the stored state, e.g. after the state expired or
// was lost. Closed sagas are never overwritten.
type RebuildSaga struct {
	store   saga.ChoreographyStore
	archive events.EventStore
	logger  zerolog.Logger
}

// NewRebuildSaga creates a new RebuildSaga use case. archive may be nil, in
// which case every rebuild fails with ErrArchiveUnavailable.
func NewRebuildSaga(store saga.ChoreographyStore, archive events.EventStore, logger zerolog.Logger) *RebuildSaga {
	return &RebuildSaga{
		store:   store,
		archive: archive,
		logger:  logger,
	}
}

// Execute executes the rebuild saga use case
func (uc *RebuildSaga) Execute(ctx context.Context, query *GetSagaQuery) (*saga.View, error) {
	sagaID, err := parseSagaID(query.SagaID)
	if err != nil {
		return nil, err
	}
	if uc.archive == nil {
		return nil, ErrArchiveUnavailable
	}

	history, err := uc.archive.GetEventsBySaga(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get archived events")
	}
	if len(history) == 0 {
		return nil, ErrNothingToReconstruct
	}

	log := uc.logger.With().Str("saga_id", sagaID.String()).Logger()

	var rebuilt *saga.ChoreographedState
	err = retry.Do(
		func() error {
			state, err := saga.RebuildChoreography(sagaID, history, log)
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to rebuild saga"))
			}

			existing, err := uc.store.GetChoreography(ctx, sagaID)
			switch {
			case errors.Is(err, saga.ErrSagaNotFound):
				err = uc.store.CreateChoreography(ctx, state)
			case err != nil:
				return retry.Unrecoverable(errors.Wrap(err, "failed to load choreographed saga"))
			case existing.IsClosed():
				return retry.Unrecoverable(errors.Wrapf(saga.ErrTerminal, "saga %s is %s", sagaID, existing.Status))
			default:
				state.Version = existing.Version
				err = uc.store.SaveChoreography(ctx, state)
			}
			if errors.Is(err, saga.ErrVersionConflict) || errors.Is(err, saga.ErrSagaExists) {
				return err
			}
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to store rebuilt saga"))
			}

			rebuilt = state
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(0),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	log.Info().Int("events", len(history)).Str("status", string(rebuilt.Status)).Msg("saga rebuilt from archive")
	return saga.ViewOfChoreography(rebuilt), nil
}
