package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CartSessions interface {
	Get(ctx context.Context, sessionID string) (*service.Manager, error)
}

type ProductResolver interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

type CartHandler struct {
	sessions CartSessions
	products ProductResolver
	log      logrus.FieldLogger
}

// NewCartHandler builds the cart endpoints. products may be nil, in which
// case adds must carry a full product snapshot.
func NewCartHandler(sessions CartSessions, products ProductResolver, log logrus.FieldLogger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		products: products,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	Product   *domain.Product `json:"product,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	SessionID     string            `json:"session_id"`
	Items         []domain.CartLine `json:"items"`
	TotalItems    int               `json:"total_items"`
	TotalPrice    decimal.Decimal   `json:"total_price"`
	IsCheckingOut bool              `json:"is_checking_out"`
	Version       int64             `json:"version"`
}

func toCartDTO(m *service.Manager) CartResponseDTO {
	cart := m.Snapshot()
	items := cart.Lines
	if items == nil {
		items = []domain.CartLine{}
	}
	return CartResponseDTO{
		SessionID:     cart.SessionID,
		Items:         items,
		TotalItems:    cart.TotalItems(),
		TotalPrice:    cart.TotalPrice(),
		IsCheckingOut: m.IsCheckingOut(),
		Version:       cart.Version,
	}
}

func (h *CartHandler) manager(w http.ResponseWriter, r *http.Request) (*service.Manager, bool) {
	m, err := h.sessions.Get(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		handleError(w, h.log, err)
		return nil, false
	}
	return m, true
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(m))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be greater than 0")
		return
	}

	var product domain.Product
	switch {
	case req.Product != nil:
		product = *req.Product
	case req.ProductID != "" && h.products != nil:
		p, err := h.products.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			handleError(w, h.log, err)
			return
		}
		product = *p
	default:
		respondError(w, http.StatusBadRequest, "invalid_product", "product or product_id is required")
		return
	}

	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	if err := m.AddItem(r.Context(), product, req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartDTO(m))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	if err := m.UpdateQuantity(r.Context(), productID, *req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(m))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	if err := m.RemoveItem(r.Context(), productID); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(m))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	if err := m.ClearCart(r.Context()); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(m))
}

type CheckoutResponseDTO struct {
	service.CheckoutResult
	Message string          `json:"message"`
	Cart    CartResponseDTO `json:"cart"`
}

// POST /api/v1/cart/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	result, err := m.Checkout(r.Context())
	var checkoutErr *service.CheckoutError
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
			CheckoutResult: result,
			Message:        "Your order has been placed and will be processed soon.",
			Cart:           toCartDTO(m),
		})
	case errors.As(err, &checkoutErr):
		respondJSON(w, http.StatusBadGateway, CheckoutResponseDTO{
			CheckoutResult: result,
			Message:        checkoutErr.Unwrap().Error(),
			Cart:           toCartDTO(m),
		})
	default:
		handleError(w, h.log, err)
	}
}
