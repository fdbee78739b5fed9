package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/catalog"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/service"
	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    string              `json:"code,omitempty"`
	Details string              `json:"details,omitempty"`
	Stock   *int                `json:"stock,omitempty"`
	InCart  *int                `json:"in_cart,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps cart and upstream errors onto HTTP statuses.
func handleError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var (
		limitErr *domain.LimitExceededError
		apiErr   *backend.APIError
	)

	switch {
	case errors.As(err, &limitErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:  limitErr.Error(),
			Code:   "limit_exceeded",
			Stock:  &limitErr.Stock,
			InCart: &limitErr.InCart,
		})
	case errors.Is(err, domain.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", err.Error())
	case errors.Is(err, domain.ErrLineSettled):
		respondError(w, http.StatusConflict, "line_settled", err.Error())
	case errors.Is(err, service.ErrCheckoutInProgress):
		respondError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidProduct):
		respondError(w, http.StatusBadRequest, "invalid_product", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		respondJSON(w, status, ErrorResponse{
			Error:  apiErr.Message,
			Code:   "upstream_error",
			Errors: apiErr.Errors,
		})
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
