package saga

import (
	"sort"

	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ReplayTransitions folds a transition log in timestamp order and returns the
// resulting current state. Gaps in the from/to chain are reported as errors.
func ReplayTransitions(transitions []*Transition) (State, error) {
	if len(transitions) == 0 {
		return "", errors.New("no transitions to replay")
	}

	ordered := make([]*Transition, len(transitions))
	copy(ordered, transitions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var current State
	for i, t := range ordered {
		if i > 0 && t.FromState != current {
			return current, errors.Errorf("transition %d starts at %s but saga was in %s", i, t.FromState, current)
		}
		current = t.ToState
	}
	return current, nil
}

// RebuildChoreography reconstructs a choreographed saga from its archived
// events. Events are applied in timestamp order; events that do not belong to
// the saga or precede its initiation are skipped with a warning.
func RebuildChoreography(sagaID models.ID, history []*events.Event, log zerolog.Logger) (*ChoreographedState, error) {
	ordered := make([]*events.Event, 0, len(history))
	for _, evt := range history {
		if evt == nil || evt.SagaID() != sagaID {
			continue
		}
		ordered = append(ordered, evt)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var state *ChoreographedState
	for _, evt := range ordered {
		desc := events.Describe(evt.EventType)
		evtLog := log.With().Str("event_id", evt.ID.String()).Str("event_type", evt.EventType).Logger()

		switch desc.Kind {
		case events.KindInitiation:
			if state != nil {
				evtLog.Warn().Msg("duplicate initiation skipped during rebuild")
				continue
			}
			state = NewChoreographedState(evt)
		case events.KindSuccess, events.KindFailure, events.KindCompensation:
			if state == nil {
				evtLog.Warn().Msg("event precedes saga initiation, skipped during rebuild")
				continue
			}
			if state.HasProcessed(evt.ID.String()) {
				continue
			}
			ApplyEvent(state, evt, desc, evtLog)
		case events.KindUnknown, events.KindCommand:
			continue
		}
	}

	if state == nil {
		return nil, errors.Wrapf(ErrSagaNotFound, "no initiation event archived for saga %s", sagaID)
	}
	return state, nil
}
