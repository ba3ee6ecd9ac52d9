package customer

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.New("customer: not found")

// Customer is a full customer record.
type Customer struct {
	CustomerID      string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	AddressLine1    string
	City            string
	State           string
	PostalCode      string
	AccountStatus   string
	CreditCardLast4 string
}

// Name returns "<first> <last>".
func (c Customer) Name() string {
	return c.FirstName + " " + c.LastName
}

// Summary is the subset of a customer returned by name searches.
type Summary struct {
	CustomerID    string `json:"customer_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	AccountStatus string `json:"account_status"`
}

// Order is one order of a customer.
type Order struct {
	OrderID string  `json:"order_id"`
	Date    string  `json:"date"`
	Total   float64 `json:"total"`
	Status  string  `json:"status"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
}

// Store reads customer data.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - SearchByName matches both names case-insensitively, ordered by id.
//   - Customer returns ErrNotFound for an unknown id.
//   - Orders are newest first; limit <= 0 returns every order.
type Store interface {
	SearchByName(ctx context.Context, firstName, lastName string) ([]Summary, error)
	Customer(ctx context.Context, id string) (Customer, error)
	Orders(ctx context.Context, customerID string, limit int) ([]Order, error)
	OrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	Ping(ctx context.Context) error
	Close() error
}

type seedItem struct {
	OrderID string
	OrderItem
}

// Seed data shared by every store.
var (
	seedCustomers = []Customer{
		{"CUST001", "John", "Doe", "john.doe@example.com", "+1-555-123-4567", "123 Main Street", "San Francisco", "CA", "94102", "active", "4242"},
		{"CUST002", "Jane", "Smith", "jane.smith@example.com", "+1-555-987-6543", "456 Oak Avenue", "Los Angeles", "CA", "90001", "active", "1234"},
		{"CUST003", "Bob", "Johnson", "bob.johnson@example.com", "+1-555-456-7890", "789 Pine Road", "Seattle", "WA", "98101", "suspended", "5678"},
	}

	seedOrders = []struct {
		CustomerID string
		Order
	}{
		{"CUST001", Order{"ORD-10001", "2025-01-15", 149.99, "delivered"}},
		{"CUST001", Order{"ORD-10002", "2025-01-20", 299.00, "shipped"}},
		{"CUST002", Order{"ORD-10003", "2025-01-18", 549.99, "processing"}},
	}

	seedItems = []seedItem{
		{"ORD-10001", OrderItem{"Wireless Headphones", 1, 99.99, 99.99}},
		{"ORD-10001", OrderItem{"USB-C Cable", 2, 25.00, 50.00}},
		{"ORD-10002", OrderItem{"Mechanical Keyboard", 1, 299.00, 299.00}},
		{"ORD-10003", OrderItem{"Monitor 27inch", 1, 499.99, 499.99}},
		{"ORD-10003", OrderItem{"HDMI Cable", 1, 50.00, 50.00}},
	}
)
