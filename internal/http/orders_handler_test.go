package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock ---

type OrderHistoryMock struct {
	orders    []domain.Order
	err       error
	updatedTo int
	cancelled string
}

func (m *OrderHistoryMock) ListPurchases(ctx context.Context) ([]domain.Order, error) {
	return m.orders, m.err
}

func (m *OrderHistoryMock) ListSales(ctx context.Context) ([]domain.Order, error) {
	return m.orders, m.err
}

func (m *OrderHistoryMock) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Order{ID: id, Quantity: 1}, nil
}

func (m *OrderHistoryMock) UpdateOrder(ctx context.Context, id string, quantity int) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updatedTo = quantity
	return &domain.Order{ID: id, Quantity: quantity}, nil
}

func (m *OrderHistoryMock) CancelOrder(ctx context.Context, id string) error {
	m.cancelled = id
	return m.err
}

func withOrderID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("order_id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// --- Tests ---

func TestListPurchases_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.history.orders = []domain.Order{{ID: "o1"}, {ID: "o2"}}

	rec := ts.do(t, http.MethodGet, "/api/v1/orders/purchases", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var orders []domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&orders))
	assert.Len(t, orders, 2)
}

func TestListSales_UpstreamError(t *testing.T) {
	ts := newTestServer(t)
	ts.history.err = &backend.APIError{Message: "Not authenticated", StatusCode: http.StatusUnauthorized}

	rec := ts.do(t, http.MethodGet, "/api/v1/orders/sales", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Not authenticated", resp.Error)
	assert.Equal(t, "upstream_error", resp.Code)
}

func TestGetOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/orders/o42", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var order domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&order))
	assert.Equal(t, "o42", order.ID)
}

func TestUpdateOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/orders/o1", "", map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, ts.history.updatedTo)

	rec = ts.do(t, http.MethodPut, "/api/v1/orders/o1", "", map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/v1/orders/o7", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "o7", ts.history.cancelled)
}

func TestGetOrder_NetworkFailure(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewOrdersHandler(&OrderHistoryMock{err: &backend.APIError{
		Message:    "Network error. Please check your connection and try again.",
		StatusCode: http.StatusInternalServerError,
		Err:        backend.ErrNetwork,
	}}, log)

	req := withOrderID(httptest.NewRequest(http.MethodGet, "/", nil), "o1")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Network error")
}
