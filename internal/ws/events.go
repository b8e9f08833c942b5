package ws

import (
	"time"

	"github.com/patrickwarner/flashbid/internal/models"
)

// Event names pushed to clients.
const (
	EventRankingUpdate = "ranking_update"
	EventBidAccepted   = "bid_accepted"
	EventCampaignEnded = "campaign_ended"
)

// Event is the envelope for every server-pushed message.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// RankingUpdateData is the periodic leaderboard snapshot.
type RankingUpdateData struct {
	CampaignID        string                `json:"campaign_id"`
	TopK              []models.RankingEntry `json:"top_k"`
	TotalParticipants int64                 `json:"total_participants"`
	MinWinningScore   *float64              `json:"min_winning_score"`
	MaxScore          *float64              `json:"max_score"`
	Timestamp         time.Time             `json:"timestamp"`
}

// BidAcceptedData acknowledges the requester's own accepted bid.
type BidAcceptedData struct {
	BidID         string    `json:"bid_id"`
	CampaignID    string    `json:"campaign_id"`
	Price         float64   `json:"price"`
	Score         float64   `json:"score"`
	Rank          int64     `json:"rank"`
	TimeElapsedMS int64     `json:"time_elapsed_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// CampaignEndedData tells each subscriber whether they won. The final fields
// are only present for winners.
type CampaignEndedData struct {
	CampaignID string   `json:"campaign_id"`
	IsWinner   bool     `json:"is_winner"`
	FinalRank  *int     `json:"final_rank,omitempty"`
	FinalScore *float64 `json:"final_score,omitempty"`
	FinalPrice *float64 `json:"final_price,omitempty"`
}

// NewRankingUpdate wraps a snapshot into its event envelope.
func NewRankingUpdate(campaignID string, snap *models.RankingSnapshot, now time.Time) Event {
	return Event{
		Event: EventRankingUpdate,
		Data: RankingUpdateData{
			CampaignID:        campaignID,
			TopK:              snap.TopK,
			TotalParticipants: snap.TotalParticipants,
			MinWinningScore:   snap.MinWinningScore,
			MaxScore:          snap.MaxScore,
			Timestamp:         now,
		},
	}
}
