package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Participant service names
const (
	ServiceInventory    = "inventory"
	ServicePayment      = "payment"
	ServiceOrder        = "order"
	ServiceNotification = "notification"
)

// Orchestrated step names
const (
	StepVerifyStock    = "VerifyStock"
	StepReserveStock   = "ReserveStock"
	StepProcessPayment = "ProcessPayment"
	StepConfirmOrder   = "ConfirmOrder"
)

const coordinatorService = "saga-coordinator"

// StepDefinition declares one step of an orchestrated saga
type StepDefinition struct {
	Name    string
	Service string
	// Running is the saga state while the step executes, Done the state after it succeeds
	Running              State
	Done                 State
	CompensationRequired bool
}

// Definition is the fixed, ordered step list of a saga type
type Definition struct {
	SagaType string
	Steps    []StepDefinition
}

// OrderProcessing is the order placement saga
var OrderProcessing = Definition{
	SagaType: "OrderProcessing",
	Steps: []StepDefinition{
		{Name: StepVerifyStock, Service: ServiceInventory, Running: StateStockVerifying, Done: StateStockVerified},
		{Name: StepReserveStock, Service: ServiceInventory, Running: StateStockReserving, Done: StateStockReserved, CompensationRequired: true},
		{Name: StepProcessPayment, Service: ServicePayment, Running: StatePaymentProcessing, Done: StatePaymentProcessed, CompensationRequired: true},
		{Name: StepConfirmOrder, Service: ServiceOrder, Running: StateOrderConfirming, Done: StateCompleted, CompensationRequired: true},
	},
}

// OrchestratorConfig tunes step invocation
type OrchestratorConfig struct {
	StepTimeout          time.Duration
	StepAttempts         uint
	CompensationAttempts uint
	RetryDelay           time.Duration
	MaxRetryDelay        time.Duration
}

// DefaultOrchestratorConfig is used for zero fields
var DefaultOrchestratorConfig = OrchestratorConfig{
	StepTimeout:          30 * time.Second,
	StepAttempts:         1,
	CompensationAttempts: 3,
	RetryDelay:           200 * time.Millisecond,
	MaxRetryDelay:        5 * time.Second,
}

// StartRequest starts an orchestrated saga
type StartRequest struct {
	SagaID        models.ID
	OrderID       string
	CorrelationID models.ID
	Data          json.RawMessage
}

// Orchestrator drives orchestrated sagas step by step and compensates on failure
type Orchestrator struct {
	store        RunStore
	participants map[string]Participant
	logger       zerolog.Logger
	config       OrchestratorConfig
	clock        func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(store RunStore, participants map[string]Participant, logger zerolog.Logger, config OrchestratorConfig) *Orchestrator {
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultOrchestratorConfig.StepTimeout
	}
	if config.StepAttempts == 0 {
		config.StepAttempts = DefaultOrchestratorConfig.StepAttempts
	}
	if config.CompensationAttempts == 0 {
		config.CompensationAttempts = DefaultOrchestratorConfig.CompensationAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultOrchestratorConfig.RetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = DefaultOrchestratorConfig.MaxRetryDelay
	}

	return &Orchestrator{
		store:        store,
		participants: participants,
		logger:       logger,
		config:       config,
		clock:        models.Now,
	}
}

// Execute runs the saga to a terminal status. Step and compensation failures
// are reported through the returned run; an error is returned only when the
// request is invalid or saga state could not be persisted.
func (o *Orchestrator) Execute(ctx context.Context, def Definition, req StartRequest) (*Run, error) {
	if err := o.validate(def, req); err != nil {
		return nil, err
	}

	sagaID := req.SagaID
	if sagaID.IsEmpty() {
		sagaID = models.GenerateUUID()
	}
	correlationID := req.CorrelationID
	if correlationID.IsEmpty() {
		correlationID = sagaID
	}

	now := o.clock()
	run := &Run{
		SagaID:        sagaID,
		SagaType:      def.SagaType,
		OrderID:       req.OrderID,
		CorrelationID: correlationID,
		CurrentState:  StateStarted,
		StartedAt:     now,
		Data:          req.Data,
	}
	for _, sd := range def.Steps {
		run.Steps = append(run.Steps, &Step{
			StepName:             sd.Name,
			ServiceName:          sd.Service,
			Status:               StepPending,
			CompensationRequired: sd.CompensationRequired,
		})
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, errors.Wrap(err, "failed to create saga run")
	}

	x := &execution{
		o:         o,
		ctx:       ctx,
		def:       def,
		run:       run,
		last:      now.Add(-time.Microsecond),
		attempted: make(map[string]bool),
		logger:    o.logger.With().Str("saga_id", sagaID.String()).Str("saga_type", def.SagaType).Logger(),
	}

	if err := x.appendTransition("", StateStarted, coordinatorService, "StartSaga", TransitionSuccess, "saga started", nil); err != nil {
		return run, x.abort(err)
	}

	x.logger.Info().Str("order_id", req.OrderID).Msg("saga started")

	for i, sd := range def.Steps {
		ok, err := x.runStep(i, sd)
		if err != nil {
			return run, x.abort(err)
		}
		if !ok {
			if err := x.compensate(); err != nil {
				return run, x.abort(err)
			}
			x.finish()
			return run, nil
		}
	}

	x.finish()
	return run, nil
}

func (o *Orchestrator) validate(def Definition, req StartRequest) error {
	if req.OrderID == "" {
		return errors.New("order ID is required")
	}
	if len(def.Steps) == 0 {
		return errors.Errorf("saga type %s has no steps", def.SagaType)
	}
	for _, sd := range def.Steps {
		if _, ok := o.participants[sd.Service]; !ok {
			return errors.Wrap(ErrUnknownParticipant, sd.Service)
		}
	}
	return nil
}

// execution holds the state of one in-flight saga run
type execution struct {
	o         *Orchestrator
	ctx       context.Context
	def       Definition
	run       *Run
	last      time.Time
	attempted map[string]bool
	logger    zerolog.Logger
}

// stamp returns a timestamp strictly after the previous transition of the run
func (x *execution) stamp() time.Time {
	now := x.o.clock()
	if !now.After(x.last) {
		now = x.last.Add(time.Microsecond)
	}
	x.last = now
	return now
}

func (x *execution) appendTransition(from, to State, service, action string, typ TransitionType, message string, data json.RawMessage) error {
	t := &Transition{
		SagaID:      x.run.SagaID,
		FromState:   from,
		ToState:     to,
		ServiceName: service,
		Action:      action,
		EventType:   typ,
		Message:     message,
		Data:        data,
		Timestamp:   x.stamp(),
	}
	if err := x.o.store.AppendTransition(x.ctx, t); err != nil {
		return errors.Wrapf(err, "failed to append transition %s -> %s", from, to)
	}
	return nil
}

// record moves the run to a new state and persists both the transition and the run
func (x *execution) record(to State, service, action string, typ TransitionType, message string, data json.RawMessage) error {
	from := x.run.CurrentState
	x.run.CurrentState = to
	if err := x.appendTransition(from, to, service, action, typ, message, data); err != nil {
		return err
	}
	if err := x.o.store.SaveRun(x.ctx, x.run); err != nil {
		return errors.Wrapf(err, "failed to save saga run in state %s", to)
	}
	return nil
}

// runStep executes one forward step. It reports false when the step failed.
func (x *execution) runStep(index int, sd StepDefinition) (bool, error) {
	step := x.run.Steps[index]
	started := x.o.clock()
	step.Status = StepInProgress
	step.StartedAt = timePtr(started)

	if err := x.record(sd.Running, sd.Service, sd.Name, TransitionSuccess, "step started", nil); err != nil {
		return false, err
	}

	result, callErr := x.invoke(sd)

	duration := time.Since(started)
	telemetry.RecordHistogram(x.ctx, "saga_step_duration_seconds", "Saga step duration", duration.Seconds(),
		attribute.String("saga_type", x.def.SagaType),
		attribute.String("step", sd.Name),
	)

	if callErr == nil && result != nil && result.Success {
		step.Status = StepCompleted
		step.CompletedAt = timePtr(x.o.clock())
		step.CompensationRequired = sd.CompensationRequired || result.CompensationRequired
		if sd.Done == StateCompleted {
			x.run.CompletedAt = step.CompletedAt
		}
		if err := x.record(sd.Done, sd.Service, sd.Name, TransitionSuccess, "step completed", result.Data); err != nil {
			return false, err
		}
		x.logger.Info().Str("step", sd.Name).Dur("duration", duration).Msg("saga step completed")
		return true, nil
	}

	message := stepFailureMessage(result, callErr)
	step.Status = StepFailed
	step.ErrorMessage = message
	x.run.ErrorMessage = fmt.Sprintf("%s failed: %s", sd.Name, message)

	x.logger.Warn().Str("step", sd.Name).Str("error", message).Msg("saga step failed")

	// compensation and bookkeeping must outlive a cancelled caller
	x.ctx = context.WithoutCancel(x.ctx)

	var data json.RawMessage
	if result != nil {
		data = result.Data
	}
	if err := x.record(StateFailed, sd.Service, sd.Name, TransitionFailure, message, data); err != nil {
		return false, err
	}
	return false, nil
}

func (x *execution) invoke(sd StepDefinition) (*StepResult, error) {
	participant := x.o.participants[sd.Service]
	req := &StepRequest{
		SagaID:        x.run.SagaID,
		StepName:      sd.Name,
		OrderID:       x.run.OrderID,
		Data:          x.run.Data,
		CorrelationID: x.run.CorrelationID,
	}

	var result *StepResult
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(x.ctx, x.o.config.StepTimeout)
			defer cancel()

			res, err := participant.ExecuteStep(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "%s.%s", sd.Service, sd.Name)
			}
			result = res
			return nil
		},
		retry.Context(x.ctx),
		retry.Attempts(x.o.config.StepAttempts),
		retry.Delay(x.o.config.RetryDelay),
		retry.MaxDelay(x.o.config.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			x.logger.Warn().Err(err).Uint("attempt", n+1).Str("step", sd.Name).Msg("retrying saga step")
		}),
	)
	return result, err
}

// compensate undoes completed steps in reverse completion order
func (x *execution) compensate() error {
	pending := x.compensable()
	if len(pending) == 0 {
		// nothing to undo, the failure is final
		x.run.CompletedAt = timePtr(x.o.clock())
		if err := x.o.store.SaveRun(x.ctx, x.run); err != nil {
			return errors.Wrap(err, "failed to close failed saga run")
		}
		return nil
	}

	if err := x.record(StateCompensating, coordinatorService, "StartCompensation", TransitionCompensation, x.run.ErrorMessage, nil); err != nil {
		return err
	}

	for _, step := range pending {
		message := "step compensated"
		if err := x.compensateStep(step); err != nil {
			step.ErrorMessage = joinMessages(step.ErrorMessage, "compensation failed: "+err.Error())
			message = "compensation failed: " + err.Error()
			x.logger.Error().Err(err).Str("step", step.StepName).Msg("saga step compensation failed")
		} else {
			step.Compensated = true
			step.CompensatedAt = timePtr(x.o.clock())
		}

		if err := x.record(StateCompensating, step.ServiceName, "Compensate"+step.StepName, TransitionCompensation, message, nil); err != nil {
			return err
		}
	}

	x.run.CompletedAt = timePtr(x.o.clock())
	return x.record(StateCompensated, coordinatorService, "CompleteCompensation", TransitionCompensation, "compensation finished", nil)
}

// compensable lists completed steps needing compensation, most recently completed first
func (x *execution) compensable() []*Step {
	var steps []*Step
	for i := len(x.run.Steps) - 1; i >= 0; i-- {
		step := x.run.Steps[i]
		if step.Status == StepCompleted && step.CompensationRequired && !step.Compensated && !x.attempted[step.StepName] {
			steps = append(steps, step)
		}
	}
	return steps
}

func (x *execution) compensateStep(step *Step) error {
	x.attempted[step.StepName] = true
	participant, ok := x.o.participants[step.ServiceName]
	if !ok {
		return errors.Wrap(ErrUnknownParticipant, step.ServiceName)
	}

	req := &CompensationRequest{
		SagaID:        x.run.SagaID,
		StepName:      step.StepName,
		OrderID:       x.run.OrderID,
		Data:          x.run.Data,
		CorrelationID: x.run.CorrelationID,
		Reason:        x.run.ErrorMessage,
	}

	return retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(x.ctx, x.o.config.StepTimeout)
			defer cancel()

			res, err := participant.CompensateStep(ctx, req)
			if err != nil {
				return err
			}
			if res == nil || !res.Success {
				return errors.New(stepFailureMessage(res, nil))
			}
			return nil
		},
		retry.Context(x.ctx),
		retry.Attempts(x.o.config.CompensationAttempts),
		retry.Delay(x.o.config.RetryDelay),
		retry.MaxDelay(x.o.config.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			x.logger.Warn().Err(err).Uint("attempt", n+1).Str("step", step.StepName).Msg("retrying compensation")
		}),
	)
}

// abort stops a run whose state could not be persisted. Completed steps are
// still compensated best effort so no side effect is left dangling.
func (x *execution) abort(cause error) error {
	x.ctx = context.WithoutCancel(x.ctx)
	x.logger.Error().Err(cause).Str("state", string(x.run.CurrentState)).Msg("saga state persistence failed, aborting")

	for _, step := range x.compensable() {
		if err := x.compensateStep(step); err != nil {
			x.logger.Error().Err(err).Str("step", step.StepName).Msg("best effort compensation failed")
			continue
		}
		step.Compensated = true
		step.CompensatedAt = timePtr(x.o.clock())
	}

	telemetry.RecordCounter(x.ctx, "saga_runs_total", "Orchestrated saga runs by outcome", 1,
		attribute.String("saga_type", x.def.SagaType),
		attribute.String("status", "Aborted"),
	)

	return errors.Wrapf(ErrPersistence, "saga %s: %v", x.run.SagaID, cause)
}

func (x *execution) finish() {
	status := x.run.Status()
	telemetry.RecordCounter(x.ctx, "saga_runs_total", "Orchestrated saga runs by outcome", 1,
		attribute.String("saga_type", x.def.SagaType),
		attribute.String("status", string(status)),
	)
	x.logger.Info().
		Str("status", string(status)).
		Str("state", string(x.run.CurrentState)).
		Msg("saga finished")
}

func stepFailureMessage(result *StepResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case result == nil:
		return "participant returned no result"
	case result.ErrorMessage != "":
		return result.ErrorMessage
	default:
		return "step reported failure"
	}
}

func joinMessages(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
