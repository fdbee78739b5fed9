package orders

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
)

// Client talks to the marketplace order endpoints.
type Client struct {
	api *backend.Client
}

func NewClient(api *backend.Client) *Client {
	return &Client{api: api}
}

// CreateOrder places one order. The intent's idempotency key is sent as a
// header so a retried line does not create a second order.
func (c *Client) CreateOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	var order domain.Order
	err := c.api.Do(ctx, backend.Request{
		Method:         http.MethodPost,
		Path:           "/orders/",
		Body:           intent,
		IdempotencyKey: intent.IdempotencyKey,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListPurchases returns the orders placed by the current user.
func (c *Client) ListPurchases(ctx context.Context) ([]domain.Order, error) {
	return c.list(ctx, "/orders/me/purchases")
}

// ListSales returns the orders for products the current user sells.
func (c *Client) ListSales(ctx context.Context) ([]domain.Order, error) {
	return c.list(ctx, "/orders/me/sales")
}

func (c *Client) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	if err := c.api.Do(ctx, backend.Request{Method: http.MethodGet, Path: orderPath(id)}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder changes an order's quantity, the only mutable field.
func (c *Client) UpdateOrder(ctx context.Context, id string, quantity int) (*domain.Order, error) {
	var order domain.Order
	err := c.api.Do(ctx, backend.Request{
		Method: http.MethodPut,
		Path:   orderPath(id),
		Body:   map[string]int{"quantity": quantity},
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	return c.api.Do(ctx, backend.Request{Method: http.MethodDelete, Path: orderPath(id)}, nil)
}

func (c *Client) list(ctx context.Context, path string) ([]domain.Order, error) {
	var orders []domain.Order
	if err := c.api.Do(ctx, backend.Request{Method: http.MethodGet, Path: path}, &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func orderPath(id string) string {
	return fmt.Sprintf("/orders/%s", url.PathEscape(id))
}
