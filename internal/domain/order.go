package domain

import "github.com/google/uuid"

// OrderIntent is the payload sent to the order service for one cart line.
// It only lives for the duration of a checkout.
type OrderIntent struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	SellerID       string `json:"seller_id"`
	IdempotencyKey string `json:"-"`
}

// Order is the record the order service returns. Timestamps are kept as
// the backend formats them.
type Order struct {
	ID        string   `json:"id"`
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	BuyerID   string   `json:"buyer_id"`
	SellerID  string   `json:"seller_id"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt *string  `json:"updated_at,omitempty"`
	Product   *Product `json:"product,omitempty"`
}

func NewIdempotencyKey() string {
	return uuid.NewString()
}

// IntentFor builds the order intent for a line. The line must already carry
// its idempotency key.
func IntentFor(l CartLine) OrderIntent {
	return OrderIntent{
		ProductID:      l.Product.ID,
		Quantity:       l.Quantity,
		SellerID:       l.Product.SellerID,
		IdempotencyKey: l.IdempotencyKey,
	}
}
