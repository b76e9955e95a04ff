package domain

import (
	"sync"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNoReservation     = errors.New("no reservation for saga")
)

// Inventory holds product stock and the reservations made by sagas
type Inventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[models.ID][]models.OrderItem
}

// NewInventory creates an inventory seeded with the given stock levels
func NewInventory(stock map[string]int) *Inventory {
	seeded := make(map[string]int, len(stock))
	for product, qty := range stock {
		seeded[product] = qty
	}
	return &Inventory{
		stock:        seeded,
		reservations: make(map[models.ID][]models.OrderItem),
	}
}

// Available returns the unreserved quantity of a product
func (i *Inventory) Available(productID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[productID]
}

// Check verifies every item can be served from current stock
func (i *Inventory) Check(items []models.OrderItem) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.check(items)
}

func (i *Inventory) check(items []models.OrderItem) error {
	needed := make(map[string]int)
	for _, item := range items {
		needed[item.ProductID] += item.Quantity
	}
	for product, qty := range needed {
		if i.stock[product] < qty {
			return errors.Wrapf(ErrInsufficientStock, "product %s: requested %d, available %d", product, qty, i.stock[product])
		}
	}
	return nil
}

// Reserve takes the items out of stock on behalf of a saga.
// Reserving twice for the same saga keeps the first reservation.
func (i *Inventory) Reserve(sagaID models.ID, items []models.OrderItem) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.reservations[sagaID]; ok {
		return nil
	}
	if err := i.check(items); err != nil {
		return err
	}
	for _, item := range items {
		i.stock[item.ProductID] -= item.Quantity
	}
	i.reservations[sagaID] = append([]models.OrderItem(nil), items...)
	return nil
}

// Release returns a saga's reserved items to stock
func (i *Inventory) Release(sagaID models.ID) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	items, ok := i.reservations[sagaID]
	if !ok {
		return ErrNoReservation
	}
	for _, item := range items {
		i.stock[item.ProductID] += item.Quantity
	}
	delete(i.reservations, sagaID)
	return nil
}

// Reserved reports whether the saga holds a reservation
func (i *Inventory) Reserved(sagaID models.ID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.reservations[sagaID]
	return ok
}
