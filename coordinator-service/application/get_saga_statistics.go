package application

import (
	"context"

	"github.com/draftea/saga-system/shared/saga"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/pkg/errors"
)

// GetSagaStatistics use case
type GetSagaStatistics struct {
	store saga.StateStore
}

// NewGetSagaStatistics creates a new GetSagaStatistics use case
func NewGetSagaStatistics(store saga.StateStore) *GetSagaStatistics {
	return &GetSagaStatistics{
		store: store,
	}
}

// Execute aggregates every retained saga, orchestrated and choreographed
func (uc *GetSagaStatistics) Execute(ctx context.Context) (*saga.Statistics, error) {
	summaries, err := uc.store.ListSummaries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sagas")
	}
	stats := saga.ComputeStatistics(summaries)
	telemetry.RecordGauge(ctx, "saga_in_progress", "Retained sagas still in progress", float64(stats.InProgress))
	return stats, nil
}
