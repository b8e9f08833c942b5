package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/models"
)

type submitBidRequest struct {
	CampaignID string  `json:"campaign_id"`
	Price      float64 `json:"price"`
}

type bidResponse struct {
	BidID         string    `json:"bid_id"`
	CampaignID    string    `json:"campaign_id"`
	UserID        string    `json:"user_id"`
	Price         float64   `json:"price"`
	Score         float64   `json:"score"`
	Rank          int64     `json:"rank"`
	TimeElapsedMS int64     `json:"time_elapsed_ms"`
	BidNumber     int       `json:"bid_number"`
	CreatedAt     time.Time `json:"created_at"`
}

func toBidResponse(b *models.Bid, rank int64) bidResponse {
	return bidResponse{
		BidID:         b.ID.String(),
		CampaignID:    b.CampaignID.String(),
		UserID:        b.UserID.String(),
		Price:         b.Price.InexactFloat64(),
		Score:         b.Score,
		Rank:          rank,
		TimeElapsedMS: b.TimeElapsedMS,
		BidNumber:     b.BidNumber,
		CreatedAt:     b.CreatedAt,
	}
}

// SubmitBidHandler accepts or rejects a bid for the authenticated user.
func (s *Server) SubmitBidHandler(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		s.writeError(w, logic.ErrCampaignNotFound)
		return
	}
	if req.Price <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: logic.ErrPriceTooLow.Code, Message: "Price must be positive"})
		return
	}

	bid, rank, err := s.Bids.SubmitBid(r.Context(), campaignID, currentUser(r), req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBidResponse(bid, rank))
}

// BidHistoryHandler returns the user's stored bid for a campaign. The upsert
// model keeps a single row; bid_number carries the acceptance count.
func (s *Server) BidHistoryHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(mux.Vars(r)["campaign_id"])
	if err != nil {
		s.writeError(w, logic.ErrCampaignNotFound)
		return
	}

	bid, rank, err := s.Bids.BidHistory(r.Context(), campaignID, currentUser(r).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	bids := []bidResponse{}
	if bid != nil {
		bids = append(bids, toBidResponse(bid, rank))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bids": bids, "total": len(bids)})
}
