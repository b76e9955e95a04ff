package application

import (
	"context"

	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// GetSagaQuery represents the query to get a saga
type GetSagaQuery struct {
	SagaID string `json:"sagaId"`
}

func parseSagaID(raw string) (models.ID, error) {
	if raw == "" {
		return "", invalid(errors.New("saga ID is required"))
	}
	id, err := models.NewID(raw)
	if err != nil {
		return "", invalid(errors.Wrap(err, "invalid saga ID"))
	}
	return id, nil
}

// GetSaga use case. Orchestrated runs are looked up first, then choreographed sagas.
type GetSaga struct {
	store saga.StateStore
}

// NewGetSaga creates a new GetSaga use case
func NewGetSaga(store saga.StateStore) *GetSaga {
	return &GetSaga{
		store: store,
	}
}

// Execute executes the get saga use case
func (uc *GetSaga) Execute(ctx context.Context, query *GetSagaQuery) (*saga.View, error) {
	sagaID, err := parseSagaID(query.SagaID)
	if err != nil {
		return nil, err
	}

	run, err := uc.store.GetRun(ctx, sagaID)
	if err == nil {
		return saga.ViewOfRun(run), nil
	}
	if !errors.Is(err, saga.ErrSagaNotFound) {
		return nil, errors.Wrap(err, "failed to get saga run")
	}

	state, err := uc.store.GetChoreography(ctx, sagaID)
	if err != nil {
		if errors.Is(err, saga.ErrSagaNotFound) {
			return nil, saga.ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to get choreographed saga")
	}
	return saga.ViewOfChoreography(state), nil
}
