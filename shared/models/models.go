package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID represents a unique identifier
type ID string

// GenerateUUID creates a new UUID
func GenerateUUID() ID {
	return ID(uuid.New().String())
}

// DeterministicID derives a stable UUID from its parts, so retried
// producers emit the same id for the same logical fact
func DeterministicID(parts ...string) ID {
	name := ""
	for i, p := range parts {
		if i > 0 {
			name += "/"
		}
		name += p
	}
	return ID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}

// NewID creates an ID from string
func NewID(id string) (ID, error) {
	_, err := uuid.Parse(id)
	if err != nil {
		return "", errors.Wrapf(err, "invalid id %q", id)
	}
	return ID(id), nil
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty reports whether the id is unset
func (id ID) IsEmpty() bool {
	return id == ""
}

// Now returns the current time truncated to microseconds in UTC.
// Redis and Postgres round trips keep this precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Money represents monetary amount
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in cents
	Currency string `json:"currency"` // Currency code (USD, EUR, etc.)
}

// NewMoney creates a new money value
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// IsZero checks if money is zero
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive checks if money is positive
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// Multiply returns the amount times qty
func (m Money) Multiply(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

// Add adds two money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != "" && other.Currency != "" && m.Currency != other.Currency {
		return Money{}, errors.New("currency mismatch")
	}
	currency := m.Currency
	if currency == "" {
		currency = other.Currency
	}
	return Money{
		Amount:   m.Amount + other.Amount,
		Currency: currency,
	}, nil
}
