package events

import "encoding/json"

// Aggregate types
const (
	AggregateOrder        = "Order"
	AggregateInventory    = "Inventory"
	AggregatePayment      = "Payment"
	AggregateNotification = "Notification"
	AggregateSaga         = "Saga"
)

// Event Types Constants
const (
	// Initiation
	OrderCreated = "OrderCreated"

	// Step outcomes
	StockReserved    = "StockReserved"
	PaymentProcessed = "PaymentProcessed"
	OrderConfirmed   = "OrderConfirmed"
	NotificationSent = "NotificationSent"

	// Step failures
	StockReservationFailed  = "StockReservationFailed"
	PaymentFailed           = "PaymentFailed"
	OrderConfirmationFailed = "OrderConfirmationFailed"
	NotificationFailed      = "NotificationFailed"

	// Compensations
	OrderCancelled  = "OrderCancelled"
	StockReleased   = "StockReleased"
	PaymentRefunded = "PaymentRefunded"

	// Emitted by the choreography coordinator when a saga fails
	SagaCompensationRequested = "SagaCompensationRequested"
)

// Choreographed step names
const (
	StepCreateOrder      = "CreateOrder"
	StepReserveStock     = "ReserveStock"
	StepProcessPayment   = "ProcessPayment"
	StepConfirmOrder     = "ConfirmOrder"
	StepSendNotification = "SendNotification"
)

// Topics
const (
	TopicOrders        Topic = "events:orders"
	TopicInventory     Topic = "events:inventory"
	TopicPayments      Topic = "events:payments"
	TopicNotifications Topic = "events:notifications"
	TopicSaga          Topic = "events:saga"
	// TopicDefault receives event types with no explicit mapping
	TopicDefault Topic = "events:domain"
	// TopicAll receives every event regardless of type
	TopicAll Topic = "events:all"
)

// Kind classifies an event type for saga tracking
type Kind int

const (
	KindUnknown Kind = iota
	KindInitiation
	KindSuccess
	KindFailure
	KindCompensation
	// KindCommand marks coordinator-issued instructions that carry no step outcome
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindInitiation:
		return "initiation"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindCompensation:
		return "compensation"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Descriptor describes a known event type
type Descriptor struct {
	Kind  Kind
	Topic Topic
	// Steps lists the saga steps the event reports on. Compensation events
	// may undo more than one step owned by the same service.
	Steps []string
}

var catalog = map[string]Descriptor{
	OrderCreated: {Kind: KindInitiation, Topic: TopicOrders, Steps: []string{StepCreateOrder}},

	StockReserved:    {Kind: KindSuccess, Topic: TopicInventory, Steps: []string{StepReserveStock}},
	PaymentProcessed: {Kind: KindSuccess, Topic: TopicPayments, Steps: []string{StepProcessPayment}},
	OrderConfirmed:   {Kind: KindSuccess, Topic: TopicOrders, Steps: []string{StepConfirmOrder}},
	NotificationSent: {Kind: KindSuccess, Topic: TopicNotifications, Steps: []string{StepSendNotification}},

	StockReservationFailed:  {Kind: KindFailure, Topic: TopicInventory, Steps: []string{StepReserveStock}},
	PaymentFailed:           {Kind: KindFailure, Topic: TopicPayments, Steps: []string{StepProcessPayment}},
	OrderConfirmationFailed: {Kind: KindFailure, Topic: TopicOrders, Steps: []string{StepConfirmOrder}},
	NotificationFailed:      {Kind: KindFailure, Topic: TopicNotifications, Steps: []string{StepSendNotification}},

	OrderCancelled:  {Kind: KindCompensation, Topic: TopicOrders, Steps: []string{StepCreateOrder, StepConfirmOrder}},
	StockReleased:   {Kind: KindCompensation, Topic: TopicInventory, Steps: []string{StepReserveStock}},
	PaymentRefunded: {Kind: KindCompensation, Topic: TopicPayments, Steps: []string{StepProcessPayment}},

	SagaCompensationRequested: {Kind: KindCommand, Topic: TopicSaga},
}

// ChoreographySteps is the ordered step list of a choreographed order saga
var ChoreographySteps = []string{
	StepCreateOrder,
	StepReserveStock,
	StepProcessPayment,
	StepConfirmOrder,
	StepSendNotification,
}

// Describe resolves an event type. Unknown types yield KindUnknown and the default topic.
func Describe(eventType string) Descriptor {
	if d, ok := catalog[eventType]; ok {
		return d
	}
	return Descriptor{Kind: KindUnknown, Topic: TopicDefault}
}

// KindOf returns the kind of an event type
func KindOf(eventType string) Kind {
	return Describe(eventType).Kind
}

// TopicFor returns the topic an event type is appended to
func TopicFor(eventType string) Topic {
	return Describe(eventType).Topic
}

// CompensationRequestedData is the payload of SagaCompensationRequested
type CompensationRequestedData struct {
	SagaID         string   `json:"sagaId"`
	FailedStep     string   `json:"failedStep"`
	Reason         string   `json:"reason"`
	CompletedSteps []string `json:"completedSteps"`
	// Order carries the original order payload so participants can undo their work
	Order json.RawMessage `json:"order,omitempty"`
}

// StepOutcomeData is the payload participants attach to step outcome events
type StepOutcomeData struct {
	OrderID      string          `json:"orderId"`
	Step         string          `json:"step"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	// Order is passed along so the next participant can act without a lookup
	Order json.RawMessage `json:"order,omitempty"`
}
