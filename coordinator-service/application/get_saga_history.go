package application

import (
	"context"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// GetSagaHistoryResponse represents the response for getting a saga history
type GetSagaHistoryResponse struct {
	SagaID      string             `json:"sagaId"`
	Transitions []*saga.Transition `json:"transitions"`
	// ReplayedState is the state reached by replaying the transitions in order
	ReplayedState saga.State      `json:"replayedState,omitempty"`
	Events        []*events.Event `json:"events,omitempty"`
}

// GetSagaHistory use case. Orchestrated runs report their transition log;
// archived events are included when the archive is configured.
type GetSagaHistory struct {
	store   saga.StateStore
	archive events.EventStore
}

// NewGetSagaHistory creates a new GetSagaHistory use case. archive may be nil.
func NewGetSagaHistory(store saga.StateStore, archive events.EventStore) *GetSagaHistory {
	return &GetSagaHistory{
		store:   store,
		archive: archive,
	}
}

// Execute executes the get saga history use case
func (uc *GetSagaHistory) Execute(ctx context.Context, query *GetSagaQuery) (*GetSagaHistoryResponse, error) {
	sagaID, err := parseSagaID(query.SagaID)
	if err != nil {
		return nil, err
	}

	transitions, err := uc.store.GetTransitions(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transitions")
	}

	response := &GetSagaHistoryResponse{
		SagaID:      sagaID.String(),
		Transitions: transitions,
	}
	if len(transitions) > 0 {
		state, err := saga.ReplayTransitions(transitions)
		if err != nil {
			return nil, errors.Wrap(err, "failed to replay transitions")
		}
		response.ReplayedState = state
	}

	if uc.archive != nil {
		archived, err := uc.archive.GetEventsBySaga(ctx, sagaID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get archived events")
		}
		response.Events = archived
	}

	if len(response.Transitions) == 0 && len(response.Events) == 0 {
		if _, err := uc.store.GetChoreography(ctx, sagaID); err != nil {
			if errors.Is(err, saga.ErrSagaNotFound) {
				return nil, saga.ErrSagaNotFound
			}
			return nil, errors.Wrap(err, "failed to get choreographed saga")
		}
	}
	return response, nil
}
