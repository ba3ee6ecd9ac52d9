package customer

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps customer data in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
	orders    map[string][]memoryOrder
	items     map[string][]OrderItem
}

type memoryOrder struct {
	CustomerID string
	Order
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[string]Customer),
		orders:    make(map[string][]memoryOrder),
		items:     make(map[string][]OrderItem),
	}
}

// NewSeededMemoryStore creates a store holding the demo customers, orders
// and line items.
func NewSeededMemoryStore() *MemoryStore {
	s := NewMemoryStore()
	for _, c := range seedCustomers {
		s.AddCustomer(c)
	}
	for _, o := range seedOrders {
		s.AddOrder(o.CustomerID, o.Order)
	}
	for _, it := range seedItems {
		s.AddOrderItem(it.OrderID, it.OrderItem)
	}
	return s
}

// AddCustomer inserts or replaces a customer.
func (s *MemoryStore) AddCustomer(c Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.CustomerID] = c
}

// AddOrder appends an order to a customer.
func (s *MemoryStore) AddOrder(customerID string, o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[customerID] = append(s.orders[customerID], memoryOrder{CustomerID: customerID, Order: o})
}

// AddOrderItem appends a line item to an order.
func (s *MemoryStore) AddOrderItem(orderID string, it OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[orderID] = append(s.items[orderID], it)
}

// SearchByName implements Store.
func (s *MemoryStore) SearchByName(ctx context.Context, firstName, lastName string) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Summary{}
	for _, c := range s.customers {
		if strings.EqualFold(c.FirstName, firstName) && strings.EqualFold(c.LastName, lastName) {
			out = append(out, Summary{
				CustomerID:    c.CustomerID,
				FirstName:     c.FirstName,
				LastName:      c.LastName,
				Email:         c.Email,
				AccountStatus: c.AccountStatus,
			})
		}
	}
	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.CustomerID, b.CustomerID) })
	return out, nil
}

// Customer implements Store.
func (s *MemoryStore) Customer(ctx context.Context, id string) (Customer, error) {
	if err := ctx.Err(); err != nil {
		return Customer{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

// Orders implements Store.
func (s *MemoryStore) Orders(ctx context.Context, customerID string, limit int) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	stored := slices.Clone(s.orders[customerID])
	s.mu.RUnlock()

	slices.SortFunc(stored, func(a, b memoryOrder) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.OrderID, a.OrderID)
	})
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}

	out := make([]Order, len(stored))
	for i, o := range stored {
		out[i] = o.Order
	}
	return out, nil
}

// OrderItems implements Store.
func (s *MemoryStore) OrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OrderItem, len(s.items[orderID]))
	copy(out, s.items[orderID])
	return out, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
