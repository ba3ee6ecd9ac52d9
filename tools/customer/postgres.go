package customer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSearch = `SELECT customer_id, first_name, last_name, email, COALESCE(account_status, '')
FROM customers
WHERE LOWER(first_name) = LOWER($1) AND LOWER(last_name) = LOWER($2)
ORDER BY customer_id`

	pgCustomer = `SELECT customer_id, first_name, last_name, email,
	COALESCE(phone, ''), COALESCE(address_line1, ''), COALESCE(city, ''), COALESCE(state, ''),
	COALESCE(postal_code, ''), COALESCE(account_status, ''), COALESCE(credit_card_last4, '')
FROM customers
WHERE customer_id = $1`

	pgOrders = `SELECT order_id, to_char(order_date, 'YYYY-MM-DD'), total_amount::float8, COALESCE(status, '')
FROM orders
WHERE customer_id = $1
ORDER BY order_date DESC, order_id DESC`

	pgItems = `SELECT product_name, quantity, unit_price::float8, subtotal::float8
FROM order_items
WHERE order_id = $1
ORDER BY id`
)

// PgxIface is the subset of *pgxpool.Pool the store uses.
type PgxIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore reads customer data from PostgreSQL. The schema is managed
// by Migrate.
type PostgresStore struct {
	Db PgxIface
}

// OpenPostgres connects a pool to databaseURL and pings it.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("customer: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("customer: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("customer: ping database: %w", err)
	}
	return &PostgresStore{Db: pool}, nil
}

// SearchByName implements Store.
func (s *PostgresStore) SearchByName(ctx context.Context, firstName, lastName string) ([]Summary, error) {
	rows, err := s.Db.Query(ctx, pgSearch, firstName, lastName)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var c Summary
		err := row.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.AccountStatus)
		return c, err
	})
}

// Customer implements Store.
func (s *PostgresStore) Customer(ctx context.Context, id string) (Customer, error) {
	var c Customer
	err := s.Db.QueryRow(ctx, pgCustomer, id).Scan(
		&c.CustomerID, &c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.AddressLine1, &c.City, &c.State,
		&c.PostalCode, &c.AccountStatus, &c.CreditCardLast4,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

// Orders implements Store.
func (s *PostgresStore) Orders(ctx context.Context, customerID string, limit int) ([]Order, error) {
	query := pgOrders
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := s.Db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		var o Order
		err := row.Scan(&o.OrderID, &o.Date, &o.Total, &o.Status)
		return o, err
	})
}

// OrderItems implements Store.
func (s *PostgresStore) OrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.Db.Query(ctx, pgItems, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderItem, error) {
		var it OrderItem
		err := row.Scan(&it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal)
		return it, err
	})
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.Db.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
