package domain

import (
	"sync"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var ErrOrderCancelled = errors.New("order already cancelled")

// OrderStatus is the lifecycle status of an order
type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderBook tracks confirmed orders
type OrderBook struct {
	mu     sync.Mutex
	orders map[models.ID]*ConfirmedOrder
}

// ConfirmedOrder is an order accepted by a saga
type ConfirmedOrder struct {
	SagaID     models.ID    `json:"sagaId"`
	OrderID    string       `json:"orderId"`
	CustomerID string       `json:"customerId"`
	Total      models.Money `json:"total"`
	Status     OrderStatus  `json:"status"`
}

// NewOrderBook creates an empty order book
func NewOrderBook() *OrderBook {
	return &OrderBook{orders: make(map[models.ID]*ConfirmedOrder)}
}

// Confirm accepts the order for the saga. A cancelled order cannot be confirmed again.
func (b *OrderBook) Confirm(sagaID models.ID, order models.OrderPayload) (*ConfirmedOrder, error) {
	total, err := order.Total()
	if err != nil {
		return nil, errors.Wrap(err, "failed to total order")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.orders[sagaID]; ok {
		if existing.Status == OrderStatusCancelled {
			return nil, ErrOrderCancelled
		}
		return existing, nil
	}
	confirmed := &ConfirmedOrder{
		SagaID:     sagaID,
		OrderID:    order.OrderID,
		CustomerID: order.CustomerID,
		Total:      total,
		Status:     OrderStatusConfirmed,
	}
	b.orders[sagaID] = confirmed
	return confirmed, nil
}

// Cancel marks the saga's order cancelled. Orders never confirmed are
// recorded as cancelled so a late confirmation is refused.
func (b *OrderBook) Cancel(sagaID models.ID, orderID string) *ConfirmedOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[sagaID]
	if !ok {
		order = &ConfirmedOrder{SagaID: sagaID, OrderID: orderID}
		b.orders[sagaID] = order
	}
	order.Status = OrderStatusCancelled
	return order
}

// Get returns the saga's order
func (b *OrderBook) Get(sagaID models.ID) (*ConfirmedOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[sagaID]
	return order, ok
}
