package domain

import "github.com/shopspring/decimal"

// Product is a point-in-time copy of a catalog listing. Stock may go stale
// between the fetch that produced it and checkout.
type Product struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category,omitempty"`
	Condition    string          `json:"condition,omitempty"`
	Location     string          `json:"location,omitempty"`
	UniversityID string          `json:"university_id,omitempty"`
	Visibility   string          `json:"visibility,omitempty"`
	Images       []string        `json:"image,omitempty"`
	Stock        int             `json:"stock"`
	SellerID     string          `json:"seller_id"`
}
