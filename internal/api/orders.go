package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Order is one active order as returned by the backend.
type Order struct {
	ID           string      `json:"id"`
	RestaurantID string      `json:"restaurant_id"`
	TableNumber  string      `json:"table_number,omitempty"`
	Status       string      `json:"status"`
	Items        []OrderItem `json:"items,omitempty"`
	TotalCents   int64       `json:"total_cents,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderItem is a single line item on an order.
type OrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	Notes      string `json:"notes,omitempty"`
}

// ActiveOrdersResponse is the body of the active-orders endpoint.
type ActiveOrdersResponse struct {
	Orders []Order `json:"orders"`
}

// ActiveOrders fetches the orders currently in flight for a restaurant.
func (c *Client) ActiveOrders(ctx context.Context, restaurantID string) ([]Order, error) {
	if restaurantID == "" {
		return nil, fmt.Errorf("restaurant id is required")
	}

	query := url.Values{}
	query.Set("restaurant_id", restaurantID)

	var resp ActiveOrdersResponse
	if err := c.get(ctx, "/api/v1/orders/active", query, &resp); err != nil {
		return nil, err
	}

	return resp.Orders, nil
}
