package saga

import (
	"context"

	"github.com/draftea/saga-system/shared/models"
)

// RunStore persists orchestrated saga runs and their transition log.
// SaveRun is a conditional write: it succeeds only when the stored version
// equals run.Version, then increments run.Version. A lost race returns ErrVersionConflict.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, sagaID models.ID) (*Run, error)
	AppendTransition(ctx context.Context, transition *Transition) error
	GetTransitions(ctx context.Context, sagaID models.ID) ([]*Transition, error)
}

// ChoreographyStore persists choreographed saga state with the same
// conditional write semantics as RunStore.
type ChoreographyStore interface {
	CreateChoreography(ctx context.Context, state *ChoreographedState) error
	SaveChoreography(ctx context.Context, state *ChoreographedState) error
	GetChoreography(ctx context.Context, sagaID models.ID) (*ChoreographedState, error)
}

// StateStore is the full saga state store
type StateStore interface {
	RunStore
	ChoreographyStore
	// ListSummaries returns a summary of every saga still retained
	ListSummaries(ctx context.Context) ([]Summary, error)
}
