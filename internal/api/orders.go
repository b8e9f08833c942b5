package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/patrickwarner/flashbid/internal/db"
	"github.com/patrickwarner/flashbid/internal/logic"
	"github.com/patrickwarner/flashbid/internal/models"
)

// MyOrdersHandler returns the authenticated user's orders.
func (s *Server) MyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 100)
	orders, total, err := s.PG.OrdersByUser(r.Context(), currentUser(r).ID, skip, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "total": total})
}

// CampaignOrdersHandler returns a campaign's orders with the overselling
// consistency check (admin only). Consistency compares against the quota,
// which survives settlement draining the live stock.
func (s *Server) CampaignOrdersHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(mux.Vars(r)["id"])
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

	skip, limit := pagination(r, 1000)
	orders, total, err := s.PG.OrdersByCampaign(r.Context(), campaignID, skip, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":   campaignID.String(),
		"orders":        orders,
		"total":         total,
		"stock":         campaign.Quota,
		"is_consistent": total <= campaign.Quota,
	})
}
