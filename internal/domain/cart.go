package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProduct  = errors.New("product must carry an id and a non-negative stock")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrLimitExceeded   = errors.New("requested quantity exceeds available stock")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrLineSettled     = errors.New("an order was already placed for this item")
)

// LimitExceededError reports the stock ceiling and what the cart already holds.
type LimitExceededError struct {
	ProductID string
	Stock     int
	InCart    int
	Requested int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("only %d items available, %d already in cart", e.Stock, e.InCart)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// CartLine is one distinct product held in the cart.
//
// IdempotencyKey and OrderID form the checkout ledger: the key is pinned on
// the first checkout attempt and OrderID is set once the order service has
// accepted the line.
type CartLine struct {
	Product        Product `json:"product"`
	Quantity       int     `json:"quantity"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	OrderID        string  `json:"order_id,omitempty"`
}

// Settled reports whether an order already exists for this line.
func (l CartLine) Settled() bool {
	return l.OrderID != ""
}

// Subtotal is quantity * unit price.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the ordered set of lines for one browser session. Totals are
// derived on every read.
type Cart struct {
	SessionID string     `json:"session_id"`
	Lines     []CartLine `json:"items"`
	Version   int64      `json:"version"`
}

func (c Cart) TotalItems() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

func (c Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Index returns the position of the line holding productID, or -1.
func (c Cart) Index(productID string) int {
	for i, l := range c.Lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

// Clone deep-copies the lines so a mutation can be tried before it is
// committed.
func (c Cart) Clone() Cart {
	out := c
	if c.Lines != nil {
		out.Lines = make([]CartLine, len(c.Lines))
		copy(out.Lines, c.Lines)
	}
	return out
}

// CheckStock applies the stock rules shared by add and update: nothing can
// be held of a product with no recorded stock, and never more than stock.
func CheckStock(p Product, inCart, want int) error {
	if p.Stock <= 0 {
		return ErrOutOfStock
	}
	if want > p.Stock {
		return &LimitExceededError{
			ProductID: p.ID,
			Stock:     p.Stock,
			InCart:    inCart,
			Requested: want - inCart,
		}
	}
	return nil
}
