package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/draftea/saga-system/shared/events"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const choreographySource = "choreography-coordinator"

// ChoreographyCoordinator tracks choreographed sagas from the event stream.
// It never calls participants; on failure it publishes a compensation request
// that the owning participants react to.
type ChoreographyCoordinator struct {
	store      ChoreographyStore
	publisher  events.Publisher
	logger     zerolog.Logger
	casRetries uint
}

// NewChoreographyCoordinator creates a new ChoreographyCoordinator
func NewChoreographyCoordinator(store ChoreographyStore, publisher events.Publisher, logger zerolog.Logger) *ChoreographyCoordinator {
	return &ChoreographyCoordinator{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		casRetries: 5,
	}
}

// HandlerID returns the unique identifier for this event handler
func (c *ChoreographyCoordinator) HandlerID() string {
	return "choreography-coordinator"
}

// Handle implements the events.EventHandler interface
func (c *ChoreographyCoordinator) Handle(ctx context.Context, event *events.Event) error {
	desc := events.Describe(event.EventType)
	log := c.logger.With().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("kind", desc.Kind.String()).
		Logger()

	sagaID := event.SagaID()

	switch desc.Kind {
	case events.KindUnknown:
		log.Warn().Msg("unknown event type, dropping")
		return nil
	case events.KindCommand:
		return nil
	case events.KindInitiation, events.KindSuccess, events.KindFailure, events.KindCompensation:
		if sagaID.IsEmpty() {
			log.Warn().Msg("saga event without saga id, dropping")
			return nil
		}
	}

	telemetry.RecordCounter(ctx, "saga_events_consumed_total", "Saga events applied by the choreography coordinator", 1,
		attribute.String("event_type", event.EventType),
	)

	if desc.Kind == events.KindInitiation {
		return c.start(ctx, event, log)
	}
	return c.advance(ctx, sagaID, event, desc, log)
}

func (c *ChoreographyCoordinator) start(ctx context.Context, event *events.Event, log zerolog.Logger) error {
	state := NewChoreographedState(event)

	err := c.store.CreateChoreography(ctx, state)
	if errors.Is(err, ErrSagaExists) {
		log.Info().Str("saga_id", state.SagaID.String()).Msg("duplicate saga initiation ignored")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to create choreographed saga")
	}

	log.Info().Str("saga_id", state.SagaID.String()).Msg("choreographed saga started")
	return nil
}

func (c *ChoreographyCoordinator) advance(ctx context.Context, sagaID models.ID, event *events.Event, desc events.Descriptor, log zerolog.Logger) error {
	log = log.With().Str("saga_id", sagaID.String()).Logger()
	published := false

	return retry.Do(
		func() error {
			state, err := c.store.GetChoreography(ctx, sagaID)
			if err != nil {
				return retry.Unrecoverable(errors.Wrap(err, "failed to load choreographed saga"))
			}
			if state.HasProcessed(event.ID.String()) {
				log.Debug().Msg("event already applied")
				return nil
			}

			outcome := ApplyEvent(state, event, desc, log)

			// compensation requests are published before the state is saved;
			// participants treat repeated requests as no-ops
			if outcome.RequestCompensation && !published {
				if err := c.requestCompensation(ctx, state, event, outcome); err != nil {
					return retry.Unrecoverable(err)
				}
				published = true
			}

			if err := c.store.SaveChoreography(ctx, state); err != nil {
				if errors.Is(err, ErrVersionConflict) {
					return err
				}
				return retry.Unrecoverable(errors.Wrap(err, "failed to save choreographed saga"))
			}

			if state.IsClosed() {
				log.Info().Str("status", string(state.Status)).Msg("choreographed saga closed")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.casRetries),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrVersionConflict)
		}),
	)
}

func (c *ChoreographyCoordinator) requestCompensation(ctx context.Context, state *ChoreographedState, cause *events.Event, outcome Outcome) error {
	var order json.RawMessage
	if step := state.Step(events.StepCreateOrder); step != nil {
		order = step.StepData
	}

	evt, err := events.NewEvent(state.SagaID.String(), events.AggregateSaga, events.SagaCompensationRequested, events.CompensationRequestedData{
		SagaID:         state.SagaID.String(),
		FailedStep:     outcome.FailedStep,
		Reason:         state.FailureReason,
		CompletedSteps: outcome.ToCompensate,
		Order:          order,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build compensation request")
	}
	evt.WithCausation(cause).WithSaga(state.SagaID, 0, len(state.Steps))
	evt.Metadata.Source = choreographySource

	if err := c.publisher.Publish(ctx, evt); err != nil {
		return errors.Wrap(err, "failed to publish compensation request")
	}
	return nil
}

// Outcome reports side effects required after applying an event
type Outcome struct {
	RequestCompensation bool
	FailedStep          string
	ToCompensate        []string
}

// NewChoreographedState builds the state of a saga from its initiation event
func NewChoreographedState(event *events.Event) *ChoreographedState {
	at := event.Timestamp.UTC()
	initiator := event.Metadata.UserID
	if initiator == "" {
		initiator = event.Metadata.Source
	}
	correlationID := event.Metadata.CorrelationID
	if correlationID.IsEmpty() {
		correlationID = event.SagaID()
	}

	state := &ChoreographedState{
		SagaID:            event.SagaID(),
		BusinessProcess:   event.AggregateType + "Processing",
		InitiatorID:       initiator,
		CorrelationID:     correlationID,
		Status:            StatusInProgress,
		StartedAt:         at,
		UpdatedAt:         at,
		ProcessedEventIDs: []string{event.ID.String()},
	}

	steps := events.Describe(event.EventType).Steps
	for _, name := range events.ChoreographySteps {
		state.Steps = append(state.Steps, &ChoreographedStep{StepName: name, Status: StepPending})
	}
	for _, name := range steps {
		if step := state.Step(name); step != nil {
			step.Status = StepCompleted
			step.StartedAt = timePtr(at)
			step.CompletedAt = timePtr(at)
			step.StepData = event.Data
		}
	}
	startNext(state, at)
	return state
}

// ApplyEvent folds a non-initiation event into the saga state and records it
// as processed. Terminal sagas only record the event id.
func ApplyEvent(state *ChoreographedState, event *events.Event, desc events.Descriptor, log zerolog.Logger) Outcome {
	var outcome Outcome
	at := event.Timestamp.UTC()

	defer func() {
		state.ProcessedEventIDs = append(state.ProcessedEventIDs, event.ID.String())
		if at.After(state.UpdatedAt) {
			state.UpdatedAt = at
		}
	}()

	if state.IsClosed() {
		log.Info().Str("status", string(state.Status)).Msg("event for closed saga ignored")
		return outcome
	}

	switch desc.Kind {
	case events.KindSuccess:
		outcome = applySuccess(state, event, desc, at, log)
	case events.KindFailure:
		outcome = applyFailure(state, event, desc, at, log)
	case events.KindCompensation:
		applyCompensation(state, desc, at, log)
	case events.KindUnknown, events.KindInitiation, events.KindCommand:
		log.Debug().Msg("event carries no step outcome")
	}

	return outcome
}

func applySuccess(state *ChoreographedState, event *events.Event, desc events.Descriptor, at time.Time, log zerolog.Logger) Outcome {
	var outcome Outcome
	for _, name := range desc.Steps {
		step := state.Step(name)
		if step == nil {
			log.Warn().Str("step", name).Msg("event reports an unknown step")
			continue
		}
		step.Status = StepCompleted
		if step.StartedAt == nil {
			step.StartedAt = timePtr(at)
		}
		step.CompletedAt = timePtr(at)
		step.ErrorMessage = ""
		step.StepData = event.Data

		if state.Status == StatusFailed {
			// a step finished after the saga failed and must be undone too
			outcome.RequestCompensation = true
			outcome.ToCompensate = append(outcome.ToCompensate, name)
			continue
		}
	}
	if state.Status != StatusInProgress {
		return outcome
	}
	// out-of-order delivery can report a later step first
	if allCompleted(state) {
		state.Status = StatusCompleted
		state.CompletedAt = timePtr(at)
		return outcome
	}
	startNext(state, at)
	return outcome
}

func applyFailure(state *ChoreographedState, event *events.Event, desc events.Descriptor, at time.Time, log zerolog.Logger) Outcome {
	var outcome Outcome

	var payload events.StepOutcomeData
	if err := event.UnmarshalPayload(&payload); err != nil {
		log.Warn().Err(err).Msg("failure event payload unreadable")
	}
	message := payload.ErrorMessage
	if message == "" {
		message = event.EventType
	}

	for _, name := range desc.Steps {
		step := state.Step(name)
		if step == nil {
			log.Warn().Str("step", name).Msg("event reports an unknown step")
			continue
		}
		step.Status = StepFailed
		step.FailedAt = timePtr(at)
		step.ErrorMessage = message
		outcome.FailedStep = name
	}

	if state.Status == StatusFailed {
		return outcome
	}

	state.Status = StatusFailed
	state.FailedAt = timePtr(at)
	state.FailureReason = fmt.Sprintf("%s: %s", event.EventType, message)

	outcome.ToCompensate = completedUncompensated(state)
	if len(outcome.ToCompensate) == 0 {
		resolveCompensation(state, at)
		return outcome
	}
	outcome.RequestCompensation = true
	return outcome
}

func applyCompensation(state *ChoreographedState, desc events.Descriptor, at time.Time, log zerolog.Logger) {
	for _, name := range desc.Steps {
		step := state.Step(name)
		if step == nil {
			continue
		}
		if step.Status != StepCompleted {
			log.Debug().Str("step", name).Msg("compensation for a step that never completed")
			continue
		}
		if step.Compensated {
			continue
		}
		step.Compensated = true
		step.CompensatedAt = timePtr(at)
	}

	if len(completedUncompensated(state)) > 0 {
		return
	}
	if state.Status != StatusFailed {
		state.Status = StatusFailed
		state.FailedAt = timePtr(at)
		if state.FailureReason == "" {
			state.FailureReason = "compensated by participants"
		}
	}
	resolveCompensation(state, at)
}

func resolveCompensation(state *ChoreographedState, at time.Time) {
	state.CompensationResolved = true
	state.CompletedAt = timePtr(at)
}

func completedUncompensated(state *ChoreographedState) []string {
	var names []string
	for i := len(state.Steps) - 1; i >= 0; i-- {
		step := state.Steps[i]
		if step.Status == StepCompleted && !step.Compensated {
			names = append(names, step.StepName)
		}
	}
	return names
}

// startNext marks the first pending step in progress
func startNext(state *ChoreographedState, at time.Time) {
	for _, step := range state.Steps {
		switch step.Status {
		case StepCompleted:
			continue
		case StepPending:
			step.Status = StepInProgress
			step.StartedAt = timePtr(at)
		}
		return
	}
}

func allCompleted(state *ChoreographedState) bool {
	for _, step := range state.Steps {
		if step.Status != StepCompleted {
			return false
		}
	}
	return len(state.Steps) > 0
}
