package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Campaign statuses. Pending and active are derived from the clock;
// ended is also set durably by settlement.
const (
	CampaignStatusPending = "pending"
	CampaignStatusActive  = "active"
	CampaignStatusEnded   = "ended"
)

// Campaign represents a timed flash sale of a single product. Quota is
// snapshotted from the product's stock at creation time and is the number of
// winning slots; it stays authoritative after settlement drains the stock.
type Campaign struct {
	ID        uuid.UUID       `json:"campaign_id"`
	ProductID uuid.UUID       `json:"product_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Alpha     decimal.Decimal `json:"alpha"`
	Beta      decimal.Decimal `json:"beta"`
	Gamma     decimal.Decimal `json:"gamma"`
	Quota     int             `json:"quota"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusAt derives the campaign status from the clock. A durable "ended"
// status (set by settlement) wins over the derived one.
func (c *Campaign) StatusAt(now time.Time) string {
	if c.Status == CampaignStatusEnded {
		return CampaignStatusEnded
	}
	switch {
	case now.Before(c.StartTime):
		return CampaignStatusPending
	case now.Before(c.EndTime):
		return CampaignStatusActive
	default:
		return CampaignStatusEnded
	}
}

// CampaignView is the pre-parsed read model served by the campaign cache.
// Decimals are converted to float64 once on cache population so the bid hot
// path never re-parses them.
type CampaignView struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Alpha     float64
	Beta      float64
	Gamma     float64
	MinPrice  float64
	Quota     int
	Stock     int
}

// ViewOf builds the pre-parsed view for a campaign joined with its product.
func ViewOf(c *Campaign, p *Product) CampaignView {
	return CampaignView{
		ID:        c.ID,
		ProductID: c.ProductID,
		StartTime: c.StartTime.UTC(),
		EndTime:   c.EndTime.UTC(),
		Alpha:     c.Alpha.InexactFloat64(),
		Beta:      c.Beta.InexactFloat64(),
		Gamma:     c.Gamma.InexactFloat64(),
		MinPrice:  p.MinPrice.InexactFloat64(),
		Quota:     c.Quota,
		Stock:     p.Stock,
	}
}
