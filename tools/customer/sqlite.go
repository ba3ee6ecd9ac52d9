package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL,
	phone TEXT,
	address_line1 TEXT,
	city TEXT,
	state TEXT,
	postal_code TEXT,
	account_status TEXT DEFAULT 'active',
	credit_card_last4 TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	order_date TEXT NOT NULL,
	total_amount REAL NOT NULL,
	status TEXT DEFAULT 'pending',
	FOREIGN KEY (customer_id) REFERENCES customers(customer_id)
);
CREATE TABLE IF NOT EXISTS order_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	product_name TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	unit_price REAL NOT NULL,
	subtotal REAL NOT NULL,
	FOREIGN KEY (order_id) REFERENCES orders(order_id)
);`

const (
	sqliteSearch = `SELECT customer_id, first_name, last_name, email, COALESCE(account_status, '')
FROM customers
WHERE LOWER(first_name) = LOWER(?) AND LOWER(last_name) = LOWER(?)
ORDER BY customer_id`

	sqliteCustomer = `SELECT customer_id, first_name, last_name, email,
	COALESCE(phone, ''), COALESCE(address_line1, ''), COALESCE(city, ''), COALESCE(state, ''),
	COALESCE(postal_code, ''), COALESCE(account_status, ''), COALESCE(credit_card_last4, '')
FROM customers
WHERE customer_id = ?`

	sqliteOrders = `SELECT order_id, order_date, total_amount, COALESCE(status, '')
FROM orders
WHERE customer_id = ?
ORDER BY order_date DESC, order_id DESC`

	sqliteItems = `SELECT product_name, quantity, unit_price, subtotal
FROM order_items
WHERE order_id = ?
ORDER BY id`
)

// SQLiteStore reads customer data from a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path, creating the schema and seed data
// when the customers table is empty.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("customer: open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("customer: init sqlite: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("customer: create schema: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
		return fmt.Errorf("customer: count customers: %w", err)
	}
	if n == 0 {
		if err := seedSQLite(ctx, tx); err != nil {
			return fmt.Errorf("customer: seed: %w", err)
		}
	}
	return tx.Commit()
}

func seedSQLite(ctx context.Context, tx *sql.Tx) error {
	for _, c := range seedCustomers {
		_, err := tx.ExecContext(ctx, `INSERT INTO customers (customer_id, first_name, last_name, email, phone,
	address_line1, city, state, postal_code, account_status, credit_card_last4)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone,
			c.AddressLine1, c.City, c.State, c.PostalCode, c.AccountStatus, c.CreditCardLast4)
		if err != nil {
			return err
		}
	}
	for _, o := range seedOrders {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (order_id, customer_id, order_date, total_amount, status)
VALUES (?, ?, ?, ?, ?)`, o.OrderID, o.CustomerID, o.Date, o.Total, o.Status)
		if err != nil {
			return err
		}
	}
	for _, it := range seedItems {
		_, err := tx.ExecContext(ctx, `INSERT INTO order_items (order_id, product_name, quantity, unit_price, subtotal)
VALUES (?, ?, ?, ?, ?)`, it.OrderID, it.ProductName, it.Quantity, it.UnitPrice, it.Subtotal)
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchByName implements Store.
func (s *SQLiteStore) SearchByName(ctx context.Context, firstName, lastName string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSearch, firstName, lastName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Summary{}
	for rows.Next() {
		var c Summary
		if err := rows.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.AccountStatus); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Customer implements Store.
func (s *SQLiteStore) Customer(ctx context.Context, id string) (Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx, sqliteCustomer, id).Scan(
		&c.CustomerID, &c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.AddressLine1, &c.City, &c.State,
		&c.PostalCode, &c.AccountStatus, &c.CreditCardLast4,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

// Orders implements Store.
func (s *SQLiteStore) Orders(ctx context.Context, customerID string, limit int) ([]Order, error) {
	query := sqliteOrders
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.Date, &o.Total, &o.Status); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrderItems implements Store.
func (s *SQLiteStore) OrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, sqliteItems, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
