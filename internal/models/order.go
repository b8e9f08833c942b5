package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
)

// Order is a confirmed winning bid materialised by settlement. At most one
// order exists per (campaign, user) and at most Quota per campaign.
type Order struct {
	ID         uuid.UUID       `json:"order_id"`
	CampaignID uuid.UUID       `json:"campaign_id"`
	UserID     uuid.UUID       `json:"user_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	FinalScore float64         `json:"final_score"`
	FinalRank  int             `json:"final_rank"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}
