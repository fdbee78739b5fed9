package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type OrderHistory interface {
	ListPurchases(ctx context.Context) ([]domain.Order, error)
	ListSales(ctx context.Context) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, id string, quantity int) (*domain.Order, error)
	CancelOrder(ctx context.Context, id string) error
}

type OrdersHandler struct {
	orders OrderHistory
	log    logrus.FieldLogger
}

func NewOrdersHandler(orders OrderHistory, log logrus.FieldLogger) *OrdersHandler {
	return &OrdersHandler{
		orders: orders,
		log:    log,
	}
}

// GET /api/v1/orders/purchases
func (h *OrdersHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListPurchases(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/sales
func (h *OrdersHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListSales(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// PUT /api/v1/orders/{order_id}
func (h *OrdersHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil || *req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be greater than 0")
		return
	}

	order, err := h.orders.UpdateOrder(r.Context(), orderID, *req.Quantity)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// DELETE /api/v1/orders/{order_id}
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	if err := h.orders.CancelOrder(r.Context(), orderID); err != nil {
		handleError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
