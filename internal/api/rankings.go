package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/logic"
)

// GetRankingsHandler returns the campaign's top-K leaderboard with stats.
func (s *Server) GetRankingsHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(mux.Vars(r)["campaign_id"])
	if err != nil {
		s.writeError(w, logic.ErrCampaignNotFound)
		return
	}

	campaign, err := s.PG.CampaignByID(r.Context(), campaignID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeError(w, logic.ErrCampaignNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	snap, err := s.Rankings.Snapshot(r.Context(), campaignID, campaign.Quota)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":        campaignID.String(),
		"rankings":           snap.TopK,
		"total_participants": snap.TotalParticipants,
		"min_winning_score":  snap.MinWinningScore,
		"max_score":          snap.MaxScore,
		"updated_at":         time.Now().UTC(),
	})
}

// MyRankHandler returns the authenticated user's own leaderboard position.
func (s *Server) MyRankHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(mux.Vars(r)["campaign_id"])
	if err != nil {
		s.writeError(w, logic.ErrCampaignNotFound)
		return
	}

	campaign, err := s.PG.CampaignByID(r.Context(), campaignID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.writeError(w, logic.ErrCampaignNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	rank, err := s.Rankings.UserRank(r.Context(), campaignID, currentUser(r).ID, campaign.Quota)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rank)
}
