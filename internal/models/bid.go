package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is a user's latest accepted offer in one campaign. At most one row
// exists per (campaign, user); every further acceptance overwrites
// price/score/elapsed and increments BidNumber.
type Bid struct {
	ID            uuid.UUID       `json:"bid_id"`
	CampaignID    uuid.UUID       `json:"campaign_id"`
	UserID        uuid.UUID       `json:"user_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	Score         float64         `json:"score"`
	TimeElapsedMS int64           `json:"time_elapsed_ms"`
	BidNumber     int             `json:"bid_number"`
	CreatedAt     time.Time       `json:"created_at"`
}
