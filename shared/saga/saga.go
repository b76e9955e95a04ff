package saga

import (
	"encoding/json"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrSagaNotFound       = errors.New("saga not found")
	ErrSagaExists         = errors.New("saga already exists")
	ErrVersionConflict    = errors.New("saga version conflict")
	ErrPersistence        = errors.New("saga state could not be persisted")
	ErrUnknownParticipant = errors.New("no participant registered for service")
	ErrTerminal           = errors.New("saga already reached a terminal status")
)

// State is the orchestrated saga state machine position
type State string

const (
	StateStarted           State = "Started"
	StateStockVerifying    State = "StockVerifying"
	StateStockVerified     State = "StockVerified"
	StateStockReserving    State = "StockReserving"
	StateStockReserved     State = "StockReserved"
	StatePaymentProcessing State = "PaymentProcessing"
	StatePaymentProcessed  State = "PaymentProcessed"
	StateOrderConfirming   State = "OrderConfirming"
	StateCompleted         State = "Completed"
	StateFailed            State = "Failed"
	StateCompensating      State = "Compensating"
	StateCompensated       State = "Compensated"
)

// StepStatus is the status of a single step
type StepStatus string

const (
	StepPending    StepStatus = "Pending"
	StepInProgress StepStatus = "InProgress"
	StepCompleted  StepStatus = "Completed"
	StepFailed     StepStatus = "Failed"
)

// SagaStatus is the coarse status of a saga
type SagaStatus string

const (
	StatusInProgress  SagaStatus = "InProgress"
	StatusCompleted   SagaStatus = "Completed"
	StatusFailed      SagaStatus = "Failed"
	StatusCompensated SagaStatus = "Compensated"
)

// TransitionType classifies a state transition
type TransitionType string

const (
	TransitionSuccess      TransitionType = "Success"
	TransitionFailure      TransitionType = "Failure"
	TransitionCompensation TransitionType = "Compensation"
)

// Step is a step of an orchestrated saga run
type Step struct {
	StepName             string     `json:"stepName"`
	ServiceName          string     `json:"serviceName"`
	Status               StepStatus `json:"status"`
	StartedAt            *time.Time `json:"startedAt,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	ErrorMessage         string     `json:"errorMessage,omitempty"`
	CompensationRequired bool       `json:"compensationRequired"`
	Compensated          bool       `json:"compensated"`
	CompensatedAt        *time.Time `json:"compensatedAt,omitempty"`
}

// Run is an orchestrated saga instance
type Run struct {
	SagaID        models.ID       `json:"sagaId"`
	SagaType      string          `json:"sagaType"`
	OrderID       string          `json:"orderId"`
	CorrelationID models.ID       `json:"correlationId"`
	CurrentState  State           `json:"currentState"`
	Steps         []*Step         `json:"steps"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Version       int64           `json:"version"`
}

// Status maps the current state to the coarse saga status
func (r *Run) Status() SagaStatus {
	switch r.CurrentState {
	case StateCompleted:
		return StatusCompleted
	case StateCompensated:
		return StatusCompensated
	case StateFailed:
		if r.CompletedAt != nil {
			return StatusFailed
		}
		return StatusInProgress
	default:
		return StatusInProgress
	}
}

// IsClosed reports whether the run reached a terminal status
func (r *Run) IsClosed() bool {
	return r.CompletedAt != nil
}

// Step returns the step with the given name
func (r *Run) Step(name string) *Step {
	for _, s := range r.Steps {
		if s.StepName == name {
			return s
		}
	}
	return nil
}

// Transition is an append-only audit record of an orchestrated run
type Transition struct {
	SagaID      models.ID       `json:"sagaId"`
	FromState   State           `json:"fromState"`
	ToState     State           `json:"toState"`
	ServiceName string          `json:"serviceName"`
	Action      string          `json:"action"`
	EventType   TransitionType  `json:"eventType"`
	Message     string          `json:"message,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ChoreographedStep is a step tracked from the event stream
type ChoreographedStep struct {
	StepName      string          `json:"stepName"`
	Status        StepStatus      `json:"status"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Compensated   bool            `json:"compensated"`
	CompensatedAt *time.Time      `json:"compensatedAt,omitempty"`
	StepData      json.RawMessage `json:"stepData,omitempty"`
}

// ChoreographedState is the tracked progress of a choreographed saga
type ChoreographedState struct {
	SagaID          models.ID            `json:"sagaId"`
	BusinessProcess string               `json:"businessProcess"`
	InitiatorID     string               `json:"initiatorId"`
	CorrelationID   models.ID            `json:"correlationId"`
	Status          SagaStatus           `json:"status"`
	StartedAt       time.Time            `json:"startedAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
	CompletedAt     *time.Time           `json:"completedAt,omitempty"`
	FailedAt        *time.Time           `json:"failedAt,omitempty"`
	FailureReason   string               `json:"failureReason,omitempty"`
	Steps           []*ChoreographedStep `json:"steps"`
	// CompensationResolved is set once every completed step has been compensated
	CompensationResolved bool     `json:"compensationResolved"`
	ProcessedEventIDs    []string `json:"processedEventIds"`
	Version              int64    `json:"version"`
}

// Step returns the step with the given name
func (s *ChoreographedState) Step(name string) *ChoreographedStep {
	for _, st := range s.Steps {
		if st.StepName == name {
			return st
		}
	}
	return nil
}

// IsClosed reports whether the saga reached a terminal status
func (s *ChoreographedState) IsClosed() bool {
	return s.Status == StatusCompleted || (s.Status == StatusFailed && s.CompensationResolved)
}

// HasProcessed reports whether the event was already applied
func (s *ChoreographedState) HasProcessed(eventID string) bool {
	for _, id := range s.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// View is the read model returned by saga status queries
type View struct {
	SagaID       models.ID   `json:"sagaId"`
	Mode         string      `json:"mode"`
	SagaType     string      `json:"sagaType"`
	Status       SagaStatus  `json:"status"`
	CurrentState string      `json:"currentState"`
	Steps        interface{} `json:"steps"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

const (
	ModeOrchestrated  = "orchestrated"
	ModeChoreographed = "choreographed"
)

// ViewOfRun builds the status view of an orchestrated run
func ViewOfRun(r *Run) *View {
	return &View{
		SagaID:       r.SagaID,
		Mode:         ModeOrchestrated,
		SagaType:     r.SagaType,
		Status:       r.Status(),
		CurrentState: string(r.CurrentState),
		Steps:        r.Steps,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ErrorMessage: r.ErrorMessage,
	}
}

// ViewOfChoreography builds the status view of a choreographed saga
func ViewOfChoreography(s *ChoreographedState) *View {
	current := string(s.Status)
	if s.Status == StatusFailed && !s.CompensationResolved {
		current = "Compensating"
	}
	return &View{
		SagaID:       s.SagaID,
		Mode:         ModeChoreographed,
		SagaType:     s.BusinessProcess,
		Status:       s.Status,
		CurrentState: current,
		Steps:        s.Steps,
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		ErrorMessage: s.FailureReason,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
