package customer

import (
	"context"
	"errors"
	"fmt"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/jonwraymond/tooldelegate/toolserver"
)

// Capability is required by every customer tool.
const Capability = "read:customers"

// Tool names.
const (
	ToolSearchByName = "search_customer_by_name"
	ToolGetCustomer  = "get_customer"
	ToolGetOrders    = "get_customer_orders"
)

// recentOrders bounds the orders returned with a customer profile.
const recentOrders = 10

// failure is a caller-facing tool error message.
type failure string

func (f failure) Error() string { return string(f) }

func dbFailure(err error) error {
	return failure("Database error: " + err.Error())
}

// SearchResult is returned by search_customer_by_name.
type SearchResult struct {
	Customers []Summary `json:"customers"`
	Count     int       `json:"count"`
}

// Profile is returned by get_customer.
type Profile struct {
	CustomerID    string  `json:"customer_id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	AddressLine1  string  `json:"address_line1"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	PostalCode    string  `json:"postal_code"`
	AccountStatus string  `json:"account_status"`
	CreditCard    string  `json:"credit_card"`
	Orders        []Order `json:"orders"`
}

// OrderDetail is an order with its line items.
type OrderDetail struct {
	Order
	Items []OrderItem `json:"items"`
}

// OrderHistory is returned by get_customer_orders.
type OrderHistory struct {
	CustomerID   string        `json:"customer_id"`
	CustomerName string        `json:"customer_name"`
	Orders       []OrderDetail `json:"orders"`
}

// Tools returns the customer tools backed by store.
func Tools(store Store) []toolserver.Tool {
	h := &handlers{store: store}
	return []toolserver.Tool{
		{
			Definition: mcp.NewTool(ToolSearchByName,
				mcp.WithDescription("Search for customers by their name. Use this tool when you need to find a "+
					"customer's ID and you only have their name. Returns matching customer IDs which can then "+
					"be used with get_customer or get_customer_orders."),
				mcp.WithString("first_name", mcp.Required(), mcp.Description(`Customer's first name, e.g. "John"`)),
				mcp.WithString("last_name", mcp.Required(), mcp.Description(`Customer's last name, e.g. "Doe"`)),
			),
			Capability: Capability,
			Handler:    h.searchByName,
		},
		{
			Definition: mcp.NewTool(ToolGetCustomer,
				mcp.WithDescription("Get full customer profile by their ID. Returns contact details, address, "+
					"account status, and up to 10 recent orders. Use search_customer_by_name first if you "+
					"only have the customer's name."),
				mcp.WithString("customer_id", mcp.Required(), mcp.Description(`The unique customer identifier, e.g. "CUST001"`)),
			),
			Capability: Capability,
			Handler:    h.getCustomer,
		},
		{
			Definition: mcp.NewTool(ToolGetOrders,
				mcp.WithDescription("Get the full order history for a customer including line items for each "+
					"order. Use search_customer_by_name first if you only have the customer's name."),
				mcp.WithString("customer_id", mcp.Required(), mcp.Description(`The unique customer identifier, e.g. "CUST001"`)),
			),
			Capability: Capability,
			Handler:    h.getOrders,
		},
	}
}

type handlers struct {
	store Store
}

func (h *handlers) searchByName(ctx context.Context, args toolserver.Args) (any, error) {
	first, err := args.String("first_name")
	if err != nil {
		return nil, err
	}
	last, err := args.String("last_name")
	if err != nil {
		return nil, err
	}

	found, err := h.store.SearchByName(ctx, first, last)
	if err != nil {
		return nil, dbFailure(err)
	}
	if len(found) == 0 {
		return nil, failure(fmt.Sprintf("No customers found with name '%s %s'", first, last))
	}
	return SearchResult{Customers: found, Count: len(found)}, nil
}

func (h *handlers) getCustomer(ctx context.Context, args toolserver.Args) (any, error) {
	id, err := args.String("customer_id")
	if err != nil {
		return nil, err
	}

	c, err := h.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	orders, err := h.store.Orders(ctx, id, recentOrders)
	if err != nil {
		return nil, dbFailure(err)
	}
	if orders == nil {
		orders = []Order{}
	}

	return Profile{
		CustomerID:    c.CustomerID,
		Name:          c.Name(),
		Email:         c.Email,
		Phone:         c.Phone,
		AddressLine1:  c.AddressLine1,
		City:          c.City,
		State:         c.State,
		PostalCode:    c.PostalCode,
		AccountStatus: c.AccountStatus,
		CreditCard:    "****-****-****-" + c.CreditCardLast4,
		Orders:        orders,
	}, nil
}

func (h *handlers) getOrders(ctx context.Context, args toolserver.Args) (any, error) {
	id, err := args.String("customer_id")
	if err != nil {
		return nil, err
	}

	c, err := h.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	orders, err := h.store.Orders(ctx, id, 0)
	if err != nil {
		return nil, dbFailure(err)
	}

	details := make([]OrderDetail, 0, len(orders))
	for _, o := range orders {
		items, err := h.store.OrderItems(ctx, o.OrderID)
		if err != nil {
			return nil, dbFailure(err)
		}
		if items == nil {
			items = []OrderItem{}
		}
		details = append(details, OrderDetail{Order: o, Items: items})
	}

	return OrderHistory{
		CustomerID:   id,
		CustomerName: c.Name(),
		Orders:       details,
	}, nil
}

func (h *handlers) lookup(ctx context.Context, id string) (Customer, error) {
	c, err := h.store.Customer(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Customer{}, failure(fmt.Sprintf("Customer '%s' not found", id))
	case err != nil:
		return Customer{}, dbFailure(err)
	}
	return c, nil
}
