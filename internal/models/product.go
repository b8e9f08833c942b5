package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product statuses.
const (
	ProductStatusDraft  = "draft"
	ProductStatusActive = "active"
)

// Product represents a sale item. Version is the optimistic-concurrency
// counter bumped by every stock decrement.
type Product struct {
	ID          uuid.UUID       `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Stock       int             `json:"stock"`
	MinPrice    decimal.Decimal `json:"min_price"`
	Version     int             `json:"-"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
