package models

import "github.com/pkg/errors"

// OrderItem is a single line of an order
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
}

// OrderPayload is the business data carried by an order saga.
// It travels as the step request data and as the OrderCreated event payload.
type OrderPayload struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []OrderItem `json:"items"`
	// PaymentToken selects the payment instrument; "declined" tokens fail at the payment step.
	PaymentToken string `json:"paymentToken,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Total sums the order lines
func (o OrderPayload) Total() (Money, error) {
	var total Money
	for _, item := range o.Items {
		var err error
		total, err = total.Add(item.UnitPrice.Multiply(item.Quantity))
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Validate checks the payload is usable to start a saga
func (o OrderPayload) Validate() error {
	if o.OrderID == "" {
		return errors.New("order ID is required")
	}
	if o.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if len(o.Items) == 0 {
		return errors.New("at least one item is required")
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			return errors.New("item product ID is required")
		}
		if item.Quantity <= 0 {
			return errors.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}
	}
	return nil
}
