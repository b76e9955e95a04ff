package domain

import (
	"strings"
	"sync"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrPaymentDeclined = errors.New("payment declined")
	ErrInvalidAmount   = errors.New("invalid payment amount")
	ErrNoCharge        = errors.New("no charge for saga")
	ErrChargeRefunded  = errors.New("charge already refunded")
)

// DeclinedTokenPrefix marks payment tokens the ledger always declines
const DeclinedTokenPrefix = "declined"

// Charge is a payment taken for an order saga
type Charge struct {
	ID         models.ID    `json:"chargeId"`
	SagaID     models.ID    `json:"sagaId"`
	OrderID    string       `json:"orderId"`
	Amount     models.Money `json:"amount"`
	ChargedAt  time.Time    `json:"chargedAt"`
	RefundedAt *time.Time   `json:"refundedAt,omitempty"`
}

// Refunded reports whether the charge was returned
func (c *Charge) Refunded() bool {
	return c.RefundedAt != nil
}

// PaymentLedger records charges and refunds per saga
type PaymentLedger struct {
	mu      sync.Mutex
	charges map[models.ID]*Charge
}

// NewPaymentLedger creates an empty ledger
func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{charges: make(map[models.ID]*Charge)}
}

// Charge takes a payment for the saga. A saga is charged at most once;
// repeated calls return the existing charge unless it was refunded.
func (l *PaymentLedger) Charge(sagaID models.ID, orderID, token string, amount models.Money) (*Charge, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidAmount, "%d %s", amount.Amount, amount.Currency)
	}
	if strings.HasPrefix(strings.ToLower(token), DeclinedTokenPrefix) {
		return nil, ErrPaymentDeclined
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.charges[sagaID]; ok {
		if existing.Refunded() {
			return nil, errors.Wrapf(ErrChargeRefunded, "saga %s", sagaID)
		}
		return existing, nil
	}
	charge := &Charge{
		ID:        models.GenerateUUID(),
		SagaID:    sagaID,
		OrderID:   orderID,
		Amount:    amount,
		ChargedAt: models.Now(),
	}
	l.charges[sagaID] = charge
	return charge, nil
}

// Refund returns the saga's charge. Refunding twice is a no-op.
func (l *PaymentLedger) Refund(sagaID models.ID) (*Charge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	charge, ok := l.charges[sagaID]
	if !ok {
		return nil, ErrNoCharge
	}
	if !charge.Refunded() {
		now := models.Now()
		charge.RefundedAt = &now
	}
	return charge, nil
}

// Get returns the saga's charge
func (l *PaymentLedger) Get(sagaID models.ID) (*Charge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	charge, ok := l.charges[sagaID]
	return charge, ok
}
