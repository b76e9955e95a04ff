package saga_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
)

// memoryStore is a StateStore kept in process for coordinator tests
type memoryStore struct {
	mu          sync.Mutex
	runs        map[models.ID][]byte
	choreo      map[models.ID][]byte
	transitions map[models.ID][]*saga.Transition

	// failSaveAfter makes SaveRun fail once it has succeeded this many times; negative disables
	failSaveAfter int
	saves         int

	// interleave runs once inside the next SaveChoreography as a competing
	// writer that commits first
	interleave func(stored *saga.ChoreographedState)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		runs:          make(map[models.ID][]byte),
		choreo:        make(map[models.ID][]byte),
		transitions:   make(map[models.ID][]*saga.Transition),
		failSaveAfter: -1,
	}
}

func (s *memoryStore) CreateRun(_ context.Context, run *saga.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.SagaID]; ok {
		return saga.ErrSagaExists
	}
	run.Version = 1
	raw, _ := json.Marshal(run)
	s.runs[run.SagaID] = raw
	return nil
}

func (s *memoryStore) SaveRun(_ context.Context, run *saga.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveAfter >= 0 && s.saves >= s.failSaveAfter {
		return errors.New("store unavailable")
	}
	raw, ok := s.runs[run.SagaID]
	if !ok {
		return saga.ErrSagaNotFound
	}
	var stored saga.Run
	_ = json.Unmarshal(raw, &stored)
	if stored.Version != run.Version {
		return saga.ErrVersionConflict
	}
	run.Version++
	raw, _ = json.Marshal(run)
	s.runs[run.SagaID] = raw
	s.saves++
	return nil
}

func (s *memoryStore) GetRun(_ context.Context, id models.ID) (*saga.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.runs[id]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	var run saga.Run
	_ = json.Unmarshal(raw, &run)
	return &run, nil
}

func (s *memoryStore) AppendTransition(_ context.Context, t *saga.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.transitions[t.SagaID] = append(s.transitions[t.SagaID], &copied)
	return nil
}

func (s *memoryStore) GetTransitions(_ context.Context, id models.ID) ([]*saga.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*saga.Transition(nil), s.transitions[id]...), nil
}

func (s *memoryStore) CreateChoreography(_ context.Context, state *saga.ChoreographedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.choreo[state.SagaID]; ok {
		return saga.ErrSagaExists
	}
	state.Version = 1
	raw, _ := json.Marshal(state)
	s.choreo[state.SagaID] = raw
	return nil
}

func (s *memoryStore) SaveChoreography(_ context.Context, state *saga.ChoreographedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.choreo[state.SagaID]
	if !ok {
		return saga.ErrSagaNotFound
	}
	var stored saga.ChoreographedState
	_ = json.Unmarshal(raw, &stored)
	if s.interleave != nil {
		competing := s.interleave
		s.interleave = nil
		competing(&stored)
		stored.Version++
		raw, _ = json.Marshal(&stored)
		s.choreo[state.SagaID] = raw
	}
	if stored.Version != state.Version {
		return saga.ErrVersionConflict
	}
	state.Version++
	raw, _ = json.Marshal(state)
	s.choreo[state.SagaID] = raw
	return nil
}

func (s *memoryStore) GetChoreography(_ context.Context, id models.ID) (*saga.ChoreographedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.choreo[id]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	var state saga.ChoreographedState
	_ = json.Unmarshal(raw, &state)
	return &state, nil
}
