package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	return NewClient(backend.NewClient("OrderService", srv.URL, time.Second, log))
}

func TestCreateOrder(t *testing.T) {
	var body map[string]any
	var key string
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/", r.URL.Path)
		key = r.Header.Get(backend.IdempotencyHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"o1","product_id":"p1","quantity":2,"buyer_id":"b1","seller_id":"s1","created_at":"2026-01-02T03:04:05Z","updated_at":null}`))
	})

	order, err := c.CreateOrder(context.Background(), domain.OrderIntent{
		ProductID:      "p1",
		Quantity:       2,
		SellerID:       "s1",
		IdempotencyKey: "idem-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "o1", order.ID)
	assert.Equal(t, 2, order.Quantity)
	assert.Nil(t, order.UpdatedAt)
	assert.Equal(t, "idem-1", key)
	assert.Equal(t, map[string]any{"product_id": "p1", "quantity": float64(2), "seller_id": "s1"}, body)
}

func TestCreateOrder_Rejected(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"You cannot order your own product"}`))
	})

	order, err := c.CreateOrder(context.Background(), domain.OrderIntent{ProductID: "p1", Quantity: 1, SellerID: "me"})

	assert.Nil(t, order)
	assert.Equal(t, http.StatusBadRequest, backend.StatusOf(err))
	assert.Contains(t, err.Error(), "You cannot order your own product")
}

func TestListPurchasesAndSales(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/me/purchases":
			w.Write([]byte(`[{"id":"o1"},{"id":"o2"}]`))
		case "/orders/me/sales":
			w.Write([]byte(`null`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	purchases, err := c.ListPurchases(context.Background())
	require.NoError(t, err)
	assert.Len(t, purchases, 2)

	sales, err := c.ListSales(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sales)
	assert.Empty(t, sales)
}

func TestGetUpdateCancel(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/o%201", r.URL.EscapedPath())
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"id":"o 1","quantity":1}`))
		case http.MethodPut:
			var body map[string]int
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Write([]byte(`{"id":"o 1","quantity":` + jsonInt(body["quantity"]) + `}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	order, err := c.GetOrder(ctx, "o 1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.Quantity)

	order, err = c.UpdateOrder(ctx, "o 1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, order.Quantity)

	assert.NoError(t, c.CancelOrder(ctx, "o 1"))
}

func jsonInt(v int) string {
	b, _ := json.Marshal(v)
	return string(b)
}
